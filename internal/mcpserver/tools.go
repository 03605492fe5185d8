package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the Tontine Connect MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolGetReputation = mcp.NewTool("get_reputation",
	mcp.WithDescription(
		"Get a member's reputation inside one tontine: total score (0-1000), level "+
			"(bronze/silver/gold/platinum/diamond), the six category scores, payment history, "+
			"risk score, trend and active badges."),
	mcp.WithString("tontine_id",
		mcp.Required(),
		mcp.Description("The tontine (savings group) ID")),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("The member's user ID")),
)

var ToolGetLeaderboard = mcp.NewTool("get_leaderboard",
	mcp.WithDescription(
		"Rank the members of a tontine by total reputation score, best first. "+
			"Use this to compare members or find who is falling behind on contributions."),
	mcp.WithString("tontine_id",
		mcp.Required(),
		mcp.Description("The tontine (savings group) ID")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of members to return (default 20)")),
)

var ToolListUserReputation = mcp.NewTool("list_user_reputation",
	mcp.WithDescription(
		"List a user's reputation across every tontine they belong to."),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("The user's ID")),
)

var ToolListBadges = mcp.NewTool("list_badges",
	mcp.WithDescription(
		"List the achievement badges members can earn and what each one requires."),
)
