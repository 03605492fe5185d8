package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/reputation"
	"github.com/mark3labs/mcp-go/mcp"
)

const defaultLeaderboardLimit = 20

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *Client) *Handlers {
	return &Handlers{client: client}
}

// HandleGetReputation describes one member's standing.
func (h *Handlers) HandleGetReputation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tontineID := req.GetString("tontine_id", "")
	userID := req.GetString("user_id", "")
	if tontineID == "" || userID == "" {
		return mcp.NewToolResultError("tontine_id and user_id are required"), nil
	}

	rec, err := h.client.GetReputation(ctx, tontineID, userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get reputation: %v", err)), nil
	}
	return mcp.NewToolResultText(formatRecord(rec)), nil
}

// HandleGetLeaderboard ranks a tontine's members.
func (h *Handlers) HandleGetLeaderboard(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tontineID := req.GetString("tontine_id", "")
	if tontineID == "" {
		return mcp.NewToolResultError("tontine_id is required"), nil
	}
	limit := req.GetInt("limit", defaultLeaderboardLimit)

	members, err := h.client.GetLeaderboard(ctx, tontineID, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get leaderboard: %v", err)), nil
	}
	if len(members) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No reputation records for tontine %s yet.", tontineID)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Leaderboard for tontine %s (%d member(s)):\n\n", tontineID, len(members))
	for i, m := range members {
		fmt.Fprintf(&sb, "%d. %s  %d (%s)  risk %.1f  on-time %d/%d\n",
			i+1, m.UserID, m.TotalScore, m.Level, m.RiskScore, m.OnTimePayments, m.TotalPayments)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleListUserReputation summarizes a user across tontines.
func (h *Handlers) HandleListUserReputation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := req.GetString("user_id", "")
	if userID == "" {
		return mcp.NewToolResultError("user_id is required"), nil
	}

	records, err := h.client.ListUserReputation(ctx, userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list reputation: %v", err)), nil
	}
	if len(records) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("User %s has no reputation records.", userID)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "User %s in %d tontine(s):\n\n", userID, len(records))
	for _, r := range records {
		fmt.Fprintf(&sb, "- %s: %d (%s), trend %s\n", r.TontineID, r.TotalScore, r.Level, r.TrendData.Direction)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleListBadges lists the badge catalogue.
func (h *Handlers) HandleListBadges(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	badges, err := h.client.ListBadges(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list badges: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d badge(s):\n\n", len(badges))
	for _, b := range badges {
		fmt.Fprintf(&sb, "- %s (%s): %s\n", b.Name, b.ID, b.Description)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func formatRecord(r *reputation.Record) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Reputation of %s in tontine %s:\n", r.UserID, r.TontineID)
	fmt.Fprintf(&sb, "  Score: %d / 1000 (%s)\n", r.TotalScore, r.Level)
	fmt.Fprintf(&sb, "  Payment reliability: %.1f\n", r.PaymentReliabilityScore)
	fmt.Fprintf(&sb, "  Participation: %.1f\n", r.ParticipationScore)
	fmt.Fprintf(&sb, "  Leadership: %.1f\n", r.LeadershipScore)
	fmt.Fprintf(&sb, "  Compliance: %.1f\n", r.ComplianceScore)
	fmt.Fprintf(&sb, "  Social: %.1f\n", r.SocialScore)
	fmt.Fprintf(&sb, "  Payments: %d total, %d on time, %d late, %d missed\n",
		r.TotalPayments, r.OnTimePayments, r.LatePayments, r.MissedPayments)
	fmt.Fprintf(&sb, "  Risk score: %.1f\n", r.RiskScore)
	if r.PredictedNextPaymentProbability != nil {
		fmt.Fprintf(&sb, "  Next payment on time: %.0f%%\n", *r.PredictedNextPaymentProbability)
	}
	fmt.Fprintf(&sb, "  Trend: %s (7d %+.0f, 30d %+.0f)\n",
		r.TrendData.Direction, r.TrendData.Last7Days, r.TrendData.Last30Days)
	if len(r.ActiveBadges) > 0 {
		fmt.Fprintf(&sb, "  Badges: %s\n", strings.Join(r.ActiveBadges, ", "))
	}
	return sb.String()
}
