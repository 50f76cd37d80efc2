package research

import (
	"context"

	"github.com/haasonsaas/adpilot/internal/agent"
)

// Researcher is the research API surface the tools call. *Client implements it.
type Researcher interface {
	KeywordIdeas(ctx context.Context, req KeywordRequest) (*KeywordReport, error)
	CompetitorAnalysis(ctx context.Context, req CompetitorRequest) (*CompetitorReport, error)
}

// Register adds keyword_research and competitor_analysis to reg.
func Register(reg *agent.ToolRegistry, r Researcher) error {
	if err := reg.Register(agent.ToolSpec{
		ID: agent.ToolKeywordResearch,
		Description: "Expand seed keywords into keyword ideas with average monthly searches, " +
			"competition and top-of-page bid ranges.",
		Schema: agent.SchemaFor[KeywordRequest](),
		Handler: agent.Typed(func(ctx context.Context, in KeywordRequest) (any, error) {
			return r.KeywordIdeas(ctx, in)
		}),
	}); err != nil {
		return err
	}
	return reg.Register(agent.ToolSpec{
		ID:          agent.ToolCompetitorAnalysis,
		Description: "Analyze a domain's paid-search competitors: estimated spend, keyword overlap and sample ads.",
		Schema:      agent.SchemaFor[CompetitorRequest](),
		Handler: agent.Typed(func(ctx context.Context, in CompetitorRequest) (any, error) {
			return r.CompetitorAnalysis(ctx, in)
		}),
	})
}
