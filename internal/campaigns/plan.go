package campaigns

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Keyword is one keyword criterion of a plan.
type Keyword struct {
	Text      string    `json:"text" yaml:"text"`
	MatchType MatchType `json:"match_type" yaml:"match_type" jsonschema:"enum=EXACT,enum=PHRASE,enum=BROAD"`
}

// Plan is a campaign design to be checked before it is created.
type Plan struct {
	Name            string          `json:"name" yaml:"name"`
	Channel         ChannelType     `json:"channel" yaml:"channel" jsonschema:"description=Advertising channel type such as SEARCH or PERFORMANCE_MAX"`
	BiddingStrategy BiddingStrategy `json:"bidding_strategy" yaml:"bidding_strategy" jsonschema:"description=Bidding strategy type such as MAXIMIZE_CONVERSIONS"`
	DailyBudget     float64         `json:"daily_budget" yaml:"daily_budget" jsonschema:"description=Daily budget in account currency units"`
	TargetCPA       float64         `json:"target_cpa,omitempty" yaml:"target_cpa,omitempty"`
	TargetROAS      float64         `json:"target_roas,omitempty" yaml:"target_roas,omitempty"`
	FinalURL        string          `json:"final_url,omitempty" yaml:"final_url,omitempty"`
	Locations       []string        `json:"locations,omitempty" yaml:"locations,omitempty"`
	Languages       []string        `json:"languages,omitempty" yaml:"languages,omitempty"`
	Keywords        []Keyword       `json:"keywords,omitempty" yaml:"keywords,omitempty"`
}

// Severity grades an Issue. Only errors make a plan invalid.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one finding of ValidatePlan.
type Issue struct {
	Field    string   `json:"field"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s %s: %s", i.Severity, i.Field, i.Message)
}

// minDailyBudget is the smallest budget that is not flagged as likely too low
// to gather data.
const minDailyBudget = 1.0

// ValidatePlan checks p against the lookup tables. The result is empty for a
// clean plan.
func ValidatePlan(p Plan) []Issue {
	var issues []Issue
	add := func(field string, sev Severity, format string, args ...any) {
		issues = append(issues, Issue{Field: field, Severity: sev, Message: fmt.Sprintf(format, args...)})
	}

	name := strings.TrimSpace(p.Name)
	switch {
	case name == "":
		add("name", SeverityError, "campaign name is required")
	case len(name) > MaxNameLength:
		add("name", SeverityError, "campaign name exceeds %d characters", MaxNameLength)
	}

	channelOK := p.Channel.Valid()
	if !channelOK {
		add("channel", SeverityError, "unknown channel type %q", p.Channel)
	}

	switch {
	case !p.BiddingStrategy.Valid():
		add("bidding_strategy", SeverityError, "unknown bidding strategy %q", p.BiddingStrategy)
	case channelOK && !p.BiddingStrategy.SupportsChannel(p.Channel):
		add("bidding_strategy", SeverityError, "%s is not available for %s campaigns (allowed on %s)",
			p.BiddingStrategy, p.Channel, joinChannels(ChannelsFor(p.BiddingStrategy)))
	}

	switch {
	case p.DailyBudget <= 0:
		add("daily_budget", SeverityError, "daily budget must be positive")
	case p.DailyBudget < minDailyBudget:
		add("daily_budget", SeverityWarning, "daily budget %.2f is likely too low to gather data", p.DailyBudget)
	}

	switch p.BiddingStrategy {
	case BidTargetCPA:
		if p.TargetCPA <= 0 {
			add("target_cpa", SeverityError, "TARGET_CPA requires a positive target_cpa")
		} else if p.DailyBudget > 0 && p.TargetCPA > p.DailyBudget {
			add("target_cpa", SeverityWarning, "target CPA %.2f exceeds the daily budget", p.TargetCPA)
		}
	case BidTargetROAS:
		if p.TargetROAS <= 0 {
			add("target_roas", SeverityError, "TARGET_ROAS requires a positive target_roas")
		}
	}

	if p.FinalURL != "" {
		if u, err := url.Parse(p.FinalURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("final_url", SeverityError, "final URL %q must be an absolute http(s) URL", p.FinalURL)
		}
	}

	if p.Channel == ChannelSearch && len(p.Keywords) == 0 {
		add("keywords", SeverityWarning, "search campaign has no keywords")
	}
	if channelOK && !p.Channel.UsesKeywords() && len(p.Keywords) > 0 {
		add("keywords", SeverityWarning, "%s campaigns do not use keyword criteria", p.Channel)
	}

	seen := make(map[string]bool, len(p.Keywords))
	for i, kw := range p.Keywords {
		field := fmt.Sprintf("keywords[%d]", i)
		text := strings.TrimSpace(kw.Text)
		switch {
		case text == "":
			add(field, SeverityError, "keyword text is required")
			continue
		case len(text) > MaxKeywordLength:
			add(field, SeverityError, "keyword %q exceeds %d characters", text, MaxKeywordLength)
		case len(strings.Fields(text)) > MaxKeywordWords:
			add(field, SeverityError, "keyword %q exceeds %d words", text, MaxKeywordWords)
		}
		if !kw.MatchType.Valid() {
			add(field, SeverityError, "unknown match type %q", kw.MatchType)
		}
		key := strings.ToLower(text) + "|" + string(kw.MatchType)
		if seen[key] {
			add(field, SeverityWarning, "duplicate keyword %q (%s)", text, kw.MatchType)
		}
		seen[key] = true
	}

	return issues
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// LoadPlan reads a plan from a YAML or JSON file. Unknown fields are rejected.
func LoadPlan(path string) (Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, fmt.Errorf("read plan: %w", err)
	}
	var p Plan
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return Plan{}, fmt.Errorf("parse plan %s: %w", path, err)
	}
	return p, nil
}

func joinChannels(cs []ChannelType) string {
	parts := make([]string, len(cs))
	for i, c := range cs {
		parts[i] = string(c)
	}
	return strings.Join(parts, ", ")
}
