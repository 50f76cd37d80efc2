package campaigns

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validPlan() Plan {
	return Plan{
		Name:            "Spring Sale - Search",
		Channel:         ChannelSearch,
		BiddingStrategy: BidMaximizeConversions,
		DailyBudget:     50,
		FinalURL:        "https://example.com/spring",
		Keywords: []Keyword{
			{Text: "running shoes", MatchType: MatchPhrase},
			{Text: "trail running shoes", MatchType: MatchExact},
		},
	}
}

func TestValidatePlan(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Plan)
		wantField string
		wantSev   Severity
	}{
		{"clean plan", func(*Plan) {}, "", ""},
		{"missing name", func(p *Plan) { p.Name = "  " }, "name", SeverityError},
		{"long name", func(p *Plan) { p.Name = strings.Repeat("n", 256) }, "name", SeverityError},
		{"unknown channel", func(p *Plan) { p.Channel = "RADIO" }, "channel", SeverityError},
		{"unknown strategy", func(p *Plan) { p.BiddingStrategy = "CHEAPEST" }, "bidding_strategy", SeverityError},
		{"incompatible strategy", func(p *Plan) { p.BiddingStrategy = BidTargetCPM }, "bidding_strategy", SeverityError},
		{"zero budget", func(p *Plan) { p.DailyBudget = 0 }, "daily_budget", SeverityError},
		{"tiny budget", func(p *Plan) { p.DailyBudget = 0.5 }, "daily_budget", SeverityWarning},
		{"target cpa missing", func(p *Plan) { p.BiddingStrategy = BidTargetCPA }, "target_cpa", SeverityError},
		{"target cpa above budget", func(p *Plan) { p.BiddingStrategy = BidTargetCPA; p.TargetCPA = 80 }, "target_cpa", SeverityWarning},
		{"target roas missing", func(p *Plan) { p.BiddingStrategy = BidTargetROAS }, "target_roas", SeverityError},
		{"relative url", func(p *Plan) { p.FinalURL = "/spring" }, "final_url", SeverityError},
		{"search without keywords", func(p *Plan) { p.Keywords = nil }, "keywords", SeverityWarning},
		{"pmax with keywords", func(p *Plan) { p.Channel = ChannelPerformanceMax }, "keywords", SeverityWarning},
		{"empty keyword", func(p *Plan) { p.Keywords[0].Text = "" }, "keywords[0]", SeverityError},
		{"bad match type", func(p *Plan) { p.Keywords[1].MatchType = "FUZZY" }, "keywords[1]", SeverityError},
		{"too many words", func(p *Plan) { p.Keywords[0].Text = "a b c d e f g h i j k" }, "keywords[0]", SeverityError},
		{"duplicate keyword", func(p *Plan) { p.Keywords[1] = Keyword{Text: "Running Shoes", MatchType: MatchPhrase} }, "keywords[1]", SeverityWarning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPlan()
			tt.mutate(&p)
			issues := ValidatePlan(p)

			if tt.wantField == "" {
				if len(issues) != 0 {
					t.Errorf("unexpected issues: %v", issues)
				}
				return
			}
			if len(issues) != 1 {
				t.Fatalf("got %d issues, want 1: %v", len(issues), issues)
			}
			if issues[0].Field != tt.wantField || issues[0].Severity != tt.wantSev {
				t.Errorf("issue = %v, want %s on %s", issues[0], tt.wantSev, tt.wantField)
			}
			if HasErrors(issues) != (tt.wantSev == SeverityError) {
				t.Errorf("HasErrors = %v", HasErrors(issues))
			}
		})
	}
}

func TestIncompatibleStrategyNamesAllowedChannels(t *testing.T) {
	p := validPlan()
	p.BiddingStrategy = BidTargetImpressionShare
	p.Channel = ChannelDisplay
	p.Keywords = nil

	issues := ValidatePlan(p)
	if len(issues) != 1 || !strings.Contains(issues[0].Message, "allowed on SEARCH") {
		t.Errorf("issues = %v", issues)
	}
}

func TestStrategyTable(t *testing.T) {
	for s, channels := range strategyChannels {
		if len(channels) == 0 {
			t.Errorf("%s has no channels", s)
		}
		for _, c := range channels {
			if !c.Valid() {
				t.Errorf("%s lists unknown channel %s", s, c)
			}
		}
	}
	if !BidManualCPC.SupportsChannel(ChannelSearch) || BidManualCPC.SupportsChannel(ChannelVideo) {
		t.Error("MANUAL_CPC channel table is wrong")
	}
}

func TestMicros(t *testing.T) {
	tests := []struct {
		amount float64
		micros int64
	}{
		{1, 1_000_000},
		{12.34, 12_340_000},
		{0.000001, 1},
		{0, 0},
	}
	for _, tt := range tests {
		if got := ToMicros(tt.amount); got != tt.micros {
			t.Errorf("ToMicros(%v) = %d, want %d", tt.amount, got, tt.micros)
		}
		if got := FromMicros(tt.micros); got != tt.amount {
			t.Errorf("FromMicros(%d) = %v, want %v", tt.micros, got, tt.amount)
		}
	}
}

func TestLoadPlan(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "plan.yaml")
	if err := os.WriteFile(yamlPath, []byte(`
name: Brand
channel: SEARCH
bidding_strategy: TARGET_CPA
daily_budget: 20
target_cpa: 5
keywords:
  - text: acme widgets
    match_type: EXACT
`), 0o600); err != nil {
		t.Fatal(err)
	}
	p, err := LoadPlan(yamlPath)
	if err != nil {
		t.Fatalf("LoadPlan(yaml) = %v", err)
	}
	if p.TargetCPA != 5 || len(p.Keywords) != 1 || p.Keywords[0].MatchType != MatchExact {
		t.Errorf("plan = %+v", p)
	}

	jsonPath := filepath.Join(dir, "plan.json")
	if err := os.WriteFile(jsonPath, []byte(`{"name":"Brand","channel":"SEARCH","bidding_strategy":"MANUAL_CPC","daily_budget":10}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if p, err := LoadPlan(jsonPath); err != nil || p.BiddingStrategy != BidManualCPC {
		t.Errorf("LoadPlan(json) = %+v, %v", p, err)
	}

	badPath := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(badPath, []byte("name: x\nbudget: 3\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPlan(badPath); err == nil {
		t.Error("unknown field should be rejected")
	}
}
