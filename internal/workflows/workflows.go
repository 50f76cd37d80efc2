// Package workflows holds the canned campaign workflows. Each one renders a
// prompt from its parameters and runs it through the agent loop.
package workflows

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"text/template"

	"github.com/haasonsaas/adpilot/internal/agent"
	"github.com/haasonsaas/adpilot/internal/tools/ads"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

// Workflow names.
const (
	DesignCampaign     = "design_campaign"
	ValidateCampaign   = "validate_campaign"
	CreateCampaign     = "create_campaign"
	HealthCheck        = "health_check"
	CompetitorAnalysis = "competitor_analysis"
	KeywordResearch    = "keyword_research"
	Chat               = "chat"
)

// ErrUnknownWorkflow is returned for a name that is not a preset.
var ErrUnknownWorkflow = errors.New("unknown workflow")

// ParamError reports required parameters that are missing or empty.
type ParamError struct {
	Workflow string
	Missing  []string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("workflow %s: missing required parameter(s): %s", e.Workflow, strings.Join(e.Missing, ", "))
}

// Preset is one canned workflow.
type Preset struct {
	Name        string
	Description string
	Required    []string
	Optional    []string
}

var presets = map[string]Preset{
	DesignCampaign: {
		Name:        DesignCampaign,
		Description: "Design a campaign plan from a goal and a budget",
		Required:    []string{"goal", "budget"},
		Optional:    []string{"channel", "url", "locations", "customer_id"},
	},
	ValidateCampaign: {
		Name:        ValidateCampaign,
		Description: "Validate a campaign plan and explain every issue",
		Required:    []string{"plan"},
		Optional:    []string{"customer_id"},
	},
	CreateCampaign: {
		Name:        CreateCampaign,
		Description: "Create a campaign; a dry run unless live is true",
		Required:    []string{"customer_id", "plan"},
		Optional:    []string{"live", "notify"},
	},
	HealthCheck: {
		Name:        HealthCheck,
		Description: "Audit an account for budget, delivery and waste problems",
		Required:    []string{"customer_id"},
		Optional:    []string{"date_range", "notify"},
	},
	CompetitorAnalysis: {
		Name:        CompetitorAnalysis,
		Description: "Analyze paid-search competitors of a domain",
		Required:    []string{"domain"},
		Optional:    []string{"competitors", "customer_id"},
	},
	KeywordResearch: {
		Name:        KeywordResearch,
		Description: "Expand seed keywords into themed ad groups",
		Required:    []string{"seed_keywords"},
		Optional:    []string{"location", "language"},
	},
	Chat: {
		Name:        Chat,
		Description: "Free-form request",
		Required:    []string{"message"},
	},
}

// flagParams are rendered as booleans whatever their input form.
var flagParams = []string{"live", "notify"}

// Presets returns every workflow sorted by name.
func Presets() []Preset {
	out := make([]Preset, 0, len(presets))
	for _, p := range presets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup returns the preset called name.
func Lookup(name string) (Preset, bool) {
	p, ok := presets[name]
	return p, ok
}

var funcs = template.FuncMap{
	"json": func(v any) (string, error) {
		data, err := json.MarshalIndent(v, "", "  ")
		return string(data), err
	},
	"join": joinValue,
	"default": func(def, v any) any {
		if isEmpty(v) {
			return def
		}
		return v
	},
}

var prompts = template.Must(
	template.New("prompts").Funcs(funcs).Option("missingkey=zero").ParseFS(promptFS, "prompts/*.tmpl"),
)

// SystemPrompt returns the system prompt shared by every workflow.
func SystemPrompt() string {
	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, "system.tmpl", nil); err != nil {
		panic(err)
	}
	return strings.TrimSpace(buf.String())
}

// Render builds the prompt of workflow name from params.
func Render(name string, params map[string]any) (string, error) {
	preset, ok := presets[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownWorkflow, name)
	}
	var missing []string
	for _, key := range preset.Required {
		if isEmpty(params[key]) {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return "", &ParamError{Workflow: name, Missing: missing}
	}

	data := make(map[string]any, len(params))
	for k, v := range params {
		data[k] = v
	}
	for _, key := range flagParams {
		data[key] = isTrue(params[key])
	}

	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, name+".tmpl", data); err != nil {
		return "", fmt.Errorf("render workflow %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// LoopRunner runs one agent conversation. *agent.Loop implements it.
type LoopRunner interface {
	Run(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error)
}

// Runner executes workflows through the agent loop.
type Runner struct {
	loop   LoopRunner
	system string
	logger *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(loop LoopRunner, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		loop:   loop,
		system: SystemPrompt(),
		logger: logger.With("component", "workflows"),
	}
}

// Run renders workflow name with params and runs it. Only create_campaign
// with live set to true may apply mutations.
func (r *Runner) Run(ctx context.Context, name string, params map[string]any) (*agent.RunResult, error) {
	prompt, err := Render(name, params)
	if err != nil {
		return nil, err
	}

	live := name == CreateCampaign && isTrue(params["live"])
	if live {
		ctx = ads.WithLiveMutations(ctx)
		r.logger.Warn("running live workflow", "workflow", name, "customer_id", params["customer_id"])
	}
	r.logger.Info("running workflow", "workflow", name, "live", live)

	return r.loop.Run(ctx, agent.RunRequest{
		Prompt:   prompt,
		System:   r.system,
		Workflow: name,
	})
}

// Chat runs one chat exchange on top of history. Pass the previous result's
// Messages as history to continue a conversation.
func (r *Runner) Chat(ctx context.Context, message string, history []agent.CompletionMessage) (*agent.RunResult, error) {
	prompt, err := Render(Chat, map[string]any{"message": message})
	if err != nil {
		return nil, err
	}
	return r.loop.Run(ctx, agent.RunRequest{
		Prompt:   prompt,
		History:  history,
		System:   r.system,
		Workflow: Chat,
	})
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []any:
		return len(val) == 0
	case []string:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	}
	return false
}

// isTrue accepts a JSON boolean or the strings "true", "yes" and "1".
func isTrue(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "yes", "1":
			return true
		}
	}
	return false
}

// joinValue renders a list parameter as a comma separated string. A plain
// string is returned unchanged.
func joinValue(v any) string {
	switch val := v.(type) {
	case []string:
		return strings.Join(val, ", ")
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = fmt.Sprint(item)
		}
		return strings.Join(parts, ", ")
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}
