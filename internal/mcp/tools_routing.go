package mcp

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/amanmcp/internal/routing/router"
)

// RouteInput defines the input schema for the route tool.
type RouteInput struct {
	Query     string  `json:"query" jsonschema:"natural-language request to route to a skill.command"`
	Cwd       string  `json:"cwd,omitempty" jsonschema:"working directory used to suggest locally-relevant skills"`
	Threshold float64 `json:"threshold,omitempty" jsonschema:"minimum confidence score to accept a match, default 0.5"`
}

// RouteOutput defines the output schema for the route tool.
type RouteOutput struct {
	Matched      bool     `json:"matched" jsonschema:"true if a skill.command was resolved"`
	SkillName    string   `json:"skill_name,omitempty" jsonschema:"resolved skill name"`
	CommandName  string   `json:"command_name,omitempty" jsonschema:"resolved command name"`
	CommandID    string   `json:"command_id,omitempty" jsonschema:"fully-qualified skill.command id"`
	Score        float64  `json:"score,omitempty" jsonschema:"routing confidence score between 0 and 1"`
	Confidence   string   `json:"confidence,omitempty" jsonschema:"high, medium, or low"`
	ExplicitHint bool     `json:"explicit_hint,omitempty" jsonschema:"true if matched via an explicit skill.command query"`
	SkillHints   []string `json:"skill_hints,omitempty" jsonschema:"skills detected as relevant to cwd, if cwd was given"`
	Escalate     bool     `json:"escalate,omitempty" jsonschema:"true if no confident match was found and the caller should fall back to the LLM planner"`
}

// SetRouter wires the routing facade into the server, enabling the route
// tool. Call RegisterRoutingTool afterward to expose it over MCP.
func (s *Server) SetRouter(svc *router.Service) {
	s.mu.Lock()
	s.routerSvc = svc
	s.mu.Unlock()
}

// RegisterRoutingTool registers the route tool if a router.Service has been
// wired in via SetRouter; otherwise it is a no-op, so servers that don't
// use the routing core don't expose a tool with nothing behind it.
func (s *Server) RegisterRoutingTool() {
	s.mu.RLock()
	svc := s.routerSvc
	s.mu.RUnlock()
	if svc == nil {
		return
	}

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "route",
		Description: "Resolves a natural-language request to a specific skill.command tool invocation, or reports that none was confident enough, letting the caller fall back to broader planning.",
	}, s.mcpRouteHandler)
	s.logger.Debug("Registered tool", slog.String("name", "route"))
}

func (s *Server) mcpRouteHandler(ctx context.Context, _ *mcp.CallToolRequest, input RouteInput) (
	*mcp.CallToolResult,
	RouteOutput,
	error,
) {
	if input.Query == "" {
		return nil, RouteOutput{}, NewInvalidParamsError("query parameter is required")
	}

	s.mu.RLock()
	svc := s.routerSvc
	s.mu.RUnlock()
	if svc == nil {
		return nil, RouteOutput{}, NewInternalError("routing is not configured on this server")
	}

	threshold := input.Threshold
	if threshold <= 0 {
		threshold = router.MediumThreshold
	}

	decision, err := svc.Route(ctx, input.Query, threshold, input.Cwd)
	if err != nil {
		return nil, RouteOutput{}, MapError(err)
	}

	if decision.Result == nil {
		return nil, RouteOutput{Escalate: true, SkillHints: decision.SkillHints}, nil
	}

	return nil, RouteOutput{
		Matched:      true,
		SkillName:    decision.Result.SkillName,
		CommandName:  decision.Result.CommandName,
		CommandID:    decision.Result.CommandID(),
		Score:        decision.Result.Score,
		Confidence:   string(decision.Result.Confidence),
		ExplicitHint: decision.Result.ExplicitHint,
		SkillHints:   decision.SkillHints,
	}, nil
}
