package reputation

// Badge identifiers of the default rule table.
const (
	BadgePunctualPayer     = "punctual_payer"
	BadgeReliableMember    = "reliable_member"
	BadgeCleanRecord       = "clean_record"
	BadgePerfectAttendance = "perfect_attendance"
	BadgeGroupLeader       = "group_leader"
	BadgeCommunityPillar   = "community_pillar"
	BadgeDiamondMember     = "diamond_member"
	BadgeRisingStar        = "rising_star"
)

// BadgeRule awards ID while Predicate holds for the record.
type BadgeRule struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Predicate   func(r *Record) bool `json:"-"`
}

// DefaultBadges is the standard achievement table.
var DefaultBadges = []BadgeRule{
	{
		ID:          BadgePunctualPayer,
		Name:        "Punctual Payer",
		Description: "At least 5 contributions, all on time",
		Predicate: func(r *Record) bool {
			return r.TotalPayments >= 5 && r.OnTimePayments == r.TotalPayments
		},
	},
	{
		ID:          BadgeReliableMember,
		Name:        "Reliable Member",
		Description: "Reliability rate of 90% or more over at least 10 contributions",
		Predicate: func(r *Record) bool {
			return r.TotalPayments >= 10 && r.PaymentReliabilityRate >= 90
		},
	},
	{
		ID:          BadgeCleanRecord,
		Name:        "Clean Record",
		Description: "No penalties after at least 3 contributions",
		Predicate: func(r *Record) bool {
			return r.TotalPayments >= 3 && r.TotalPenalties == 0
		},
	},
	{
		ID:          BadgePerfectAttendance,
		Name:        "Perfect Attendance",
		Description: "Took part in every expected round (at least 3)",
		Predicate: func(r *Record) bool {
			return r.ExpectedParticipations >= 3 && r.ParticipationRate >= 100
		},
	},
	{
		ID:          BadgeGroupLeader,
		Name:        "Group Leader",
		Description: "Leadership score of 75 or more",
		Predicate:   func(r *Record) bool { return r.LeadershipScore >= 75 },
	},
	{
		ID:          BadgeCommunityPillar,
		Name:        "Community Pillar",
		Description: "Social score of 75 or more",
		Predicate:   func(r *Record) bool { return r.SocialScore >= 75 },
	},
	{
		ID:          BadgeDiamondMember,
		Name:        "Diamond Member",
		Description: "Reached the diamond level",
		Predicate:   func(r *Record) bool { return r.Level == LevelDiamond },
	},
	{
		ID:          BadgeRisingStar,
		Name:        "Rising Star",
		Description: "Score climbing over the last 7 days",
		Predicate:   func(r *Record) bool { return r.TrendData.Direction == DirectionUp },
	},
}

// BadgeChange lists the badges a pipeline run added and removed.
type BadgeChange struct {
	Earned  []string
	Revoked []string
}

// Empty reports whether the run changed no badge.
func (c BadgeChange) Empty() bool {
	return len(c.Earned) == 0 && len(c.Revoked) == 0
}

// evaluateBadges reconciles ActiveBadges with rules. Badges that no rule
// knows about are left alone.
func evaluateBadges(r *Record, rules []BadgeRule) BadgeChange {
	var change BadgeChange
	for _, rule := range rules {
		if rule.Predicate == nil {
			continue
		}
		has := r.HasBadge(rule.ID)
		ok := rule.Predicate(r)
		switch {
		case ok && !has:
			r.ActiveBadges = append(r.ActiveBadges, rule.ID)
			r.TotalBadgesEarned++
			change.Earned = append(change.Earned, rule.ID)
		case !ok && has:
			r.ActiveBadges = removeBadge(r.ActiveBadges, rule.ID)
			change.Revoked = append(change.Revoked, rule.ID)
		}
	}
	return change
}

func removeBadge(badges []string, id string) []string {
	out := badges[:0]
	for _, b := range badges {
		if b != id {
			out = append(out, b)
		}
	}
	return out
}
