// Package tontine exposes the read-only view of savings groups that the
// reputation engine depends on: lifecycle status and membership.
package tontine

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("tontine not found")
	ErrNotMember = errors.New("user is not a member of the tontine")
)

// Status is the lifecycle state of a tontine.
type Status string

const (
	StatusDraft         Status = "draft"
	StatusEnrollment    Status = "enrollment"
	StatusConfiguration Status = "configuration"
	StatusActive        Status = "active"
	StatusPaused        Status = "paused"
	StatusCompleted     Status = "completed"
	StatusCancelled     Status = "cancelled"
)

// Valid reports whether s is a known lifecycle state.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusEnrollment, StatusConfiguration,
		StatusActive, StatusPaused, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether the tontine has finished.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Member is one participant and the round they joined at.
type Member struct {
	UserID      string    `json:"userId"`
	JoinedRound int       `json:"joinedRound"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// Tontine is a savings group as seen by the reputation service.
type Tontine struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Status        Status    `json:"status"`
	RoundsElapsed int       `json:"roundsElapsed"`
	Members       []Member  `json:"members"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Accepting reports whether reputation events may be recorded. Paused
// groups still accept late payments and penalties.
func (t *Tontine) Accepting() bool {
	return t.Status == StatusActive || t.Status == StatusPaused
}

// Member returns the membership entry for userID.
func (t *Tontine) Member(userID string) (Member, bool) {
	for _, m := range t.Members {
		if m.UserID == userID {
			return m, true
		}
	}
	return Member{}, false
}

// ExpectedContributions is how many rounds userID was due to take part in
// so far.
func (t *Tontine) ExpectedContributions(userID string) (int, error) {
	m, ok := t.Member(userID)
	if !ok {
		return 0, ErrNotMember
	}
	n := t.RoundsElapsed - m.JoinedRound
	if n < 0 {
		n = 0
	}
	return n, nil
}

// Directory reads tontines. The reputation service never mutates them.
type Directory interface {
	Get(ctx context.Context, id string) (*Tontine, error)
	ExpectedContributions(ctx context.Context, tontineID, userID string) (int, error)
}
