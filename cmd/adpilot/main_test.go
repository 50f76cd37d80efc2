package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/99designs/keyring"

	"github.com/haasonsaas/adpilot/internal/agent"
	"github.com/haasonsaas/adpilot/internal/auth"
	"github.com/haasonsaas/adpilot/internal/config"
	"github.com/haasonsaas/adpilot/internal/secrets"
	"github.com/haasonsaas/adpilot/internal/workflows"
	"github.com/haasonsaas/adpilot/pkg/models"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"design", "validate", "create", "health", "competitors", "keywords", "chat", "accounts", "serve", "config", "secrets", "token", "runs"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
	for _, flag := range []string{"config", "log-level"} {
		if cmd.PersistentFlags().Lookup(flag) == nil {
			t.Fatalf("expected persistent flag --%s", flag)
		}
	}
}

func TestCreateDefaultsToDryRun(t *testing.T) {
	cmd := buildCreateCmd(&rootOptions{})
	live := cmd.Flags().Lookup("live")
	if live == nil {
		t.Fatal("expected --live flag")
	}
	if live.DefValue != "false" {
		t.Fatalf("--live default = %s, want false", live.DefValue)
	}
}

func TestResolveConfigPath(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv(envConfigPath, "")

	opts := &rootOptions{}
	if got := opts.resolveConfigPath(); got != "" {
		t.Fatalf("expected defaults without a file, got %q", got)
	}

	if err := os.WriteFile(filepath.Join(dir, defaultConfigName), []byte("llm: {}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if got := opts.resolveConfigPath(); got != defaultConfigName {
		t.Fatalf("got %q, want %q", got, defaultConfigName)
	}

	t.Setenv(envConfigPath, "/etc/adpilot.yaml")
	if got := opts.resolveConfigPath(); got != "/etc/adpilot.yaml" {
		t.Fatalf("env path not used, got %q", got)
	}

	opts.configPath = "custom.yaml"
	if got := opts.resolveConfigPath(); got != "custom.yaml" {
		t.Fatalf("flag path not used, got %q", got)
	}
}

func TestRunWorkflowChecksParamsFirst(t *testing.T) {
	// A missing parameter must fail before config or credentials are touched.
	opts := &rootOptions{configPath: filepath.Join(t.TempDir(), "missing.yaml")}
	err := runWorkflow(context.Background(), opts, &bytes.Buffer{}, workflows.KeywordResearch, map[string]any{}, false)

	var paramErr *workflows.ParamError
	if !errors.As(err, &paramErr) {
		t.Fatalf("expected ParamError, got %v", err)
	}
}

func writePlan(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunValidateLocal(t *testing.T) {
	tests := []struct {
		name    string
		plan    string
		wantErr bool
		want    string
	}{
		{
			name: "valid",
			plan: `name: Brand
channel: SEARCH
bidding_strategy: MAXIMIZE_CLICKS
daily_budget: 25
keywords:
  - text: acme shoes
    match_type: PHRASE
`,
			want: `plan "Brand" is valid`,
		},
		{
			name: "incompatible bidding",
			plan: `name: Video
channel: VIDEO
bidding_strategy: MANUAL_CPC
daily_budget: 10
`,
			wantErr: true,
			want:    "error bidding_strategy",
		},
		{
			name: "warning only",
			plan: `name: Search
channel: SEARCH
bidding_strategy: MAXIMIZE_CONVERSIONS
daily_budget: 20
`,
			want: "warning keywords",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := runValidateLocal(&out, writePlan(t, tt.plan), false)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !strings.Contains(out.String(), tt.want) {
				t.Fatalf("output %q does not contain %q", out.String(), tt.want)
			}
		})
	}
}

func TestRunValidateLocalJSON(t *testing.T) {
	var out bytes.Buffer
	err := runValidateLocal(&out, writePlan(t, "name: x\nchannel: BOGUS\nbidding_strategy: MANUAL_CPC\ndaily_budget: 5\n"), true)
	if err == nil {
		t.Fatal("expected error for invalid plan")
	}
	if !strings.Contains(out.String(), `"valid": false`) {
		t.Fatalf("unexpected output: %s", out.String())
	}
}

type fakeChatter struct {
	histories [][]agent.CompletionMessage
	fail      map[string]bool
}

func (f *fakeChatter) Chat(_ context.Context, message string, history []agent.CompletionMessage) (*agent.RunResult, error) {
	f.histories = append(f.histories, history)
	if f.fail[message] {
		return nil, errors.New("provider unavailable")
	}
	messages := append([]agent.CompletionMessage{}, history...)
	messages = append(messages,
		agent.CompletionMessage{Role: models.RoleUser, Content: message},
		agent.CompletionMessage{Role: models.RoleAssistant, Content: "re: " + message},
	)
	return &agent.RunResult{Text: "re: " + message, Messages: messages}, nil
}

func TestChatLoopCarriesHistory(t *testing.T) {
	fake := &fakeChatter{fail: map[string]bool{"boom": true}}
	in := strings.NewReader("hello\n\nboom\nagain\nexit\nignored\n")
	var out bytes.Buffer

	if err := chatLoop(context.Background(), fake, in, &out); err != nil {
		t.Fatalf("chatLoop: %v", err)
	}
	if len(fake.histories) != 3 {
		t.Fatalf("expected 3 chat calls, got %d", len(fake.histories))
	}
	if len(fake.histories[0]) != 0 {
		t.Fatalf("first call should have no history")
	}
	// The failed exchange leaves history untouched.
	if len(fake.histories[1]) != 2 || len(fake.histories[2]) != 2 {
		t.Fatalf("unexpected history lengths %d, %d", len(fake.histories[1]), len(fake.histories[2]))
	}
	for _, want := range []string{"re: hello", "error: provider unavailable", "re: again"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("output missing %q:\n%s", want, out.String())
		}
	}
	if strings.Contains(out.String(), "ignored") {
		t.Fatal("input after exit was processed")
	}
}

func TestChatLoopEOF(t *testing.T) {
	fake := &fakeChatter{}
	if err := chatLoop(context.Background(), fake, strings.NewReader("hi"), &bytes.Buffer{}); err != nil {
		t.Fatalf("chatLoop: %v", err)
	}
	if len(fake.histories) != 1 {
		t.Fatalf("expected 1 call, got %d", len(fake.histories))
	}
}

func TestPrintResult(t *testing.T) {
	result := &agent.RunResult{RunID: "r1", Text: "  done \n", Iterations: 2}

	var text bytes.Buffer
	if err := printResult(&text, result, false); err != nil {
		t.Fatal(err)
	}
	if text.String() != "done\n" {
		t.Fatalf("text output = %q", text.String())
	}

	var js bytes.Buffer
	if err := printResult(&js, result, true); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(js.String(), `"run_id": "r1"`) || !strings.Contains(js.String(), `"iterations": 2`) {
		t.Fatalf("json output = %s", js.String())
	}
}

func TestLazyAdsNotConfigured(t *testing.T) {
	l := &lazyAds{}
	if _, err := l.ListAccounts(context.Background()); !errors.Is(err, errAdsNotConfigured) {
		t.Fatalf("expected errAdsNotConfigured, got %v", err)
	}
	if _, err := l.Query(context.Background(), "1234567890", "SELECT campaign.id FROM campaign"); !errors.Is(err, errAdsNotConfigured) {
		t.Fatalf("expected errAdsNotConfigured, got %v", err)
	}
}

func TestSecretsCommands(t *testing.T) {
	for _, name := range secrets.Known {
		t.Setenv(name, "")
	}
	store := secrets.New(keyring.NewArrayKeyring(nil))
	var out bytes.Buffer

	if err := secretsSet(store, strings.NewReader("sk-test\n"), &out, secrets.AnthropicAPIKey, ""); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, err := store.Get(secrets.AnthropicAPIKey); err != nil || v != "sk-test" {
		t.Fatalf("Get = %q, %v", v, err)
	}

	out.Reset()
	if err := secretsList(store, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "keychain") || !strings.Contains(out.String(), "not set") {
		t.Fatalf("unexpected list output:\n%s", out.String())
	}

	if err := secretsSet(store, strings.NewReader(""), &out, "SOMETHING_ELSE", "x"); err == nil {
		t.Fatal("expected error for unknown credential")
	}
	if err := secretsSet(store, strings.NewReader("\n"), &out, secrets.ResearchAPIKey, ""); err == nil {
		t.Fatal("expected error for empty value")
	}

	if err := secretsDelete(store, &out, secrets.AnthropicAPIKey); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(secrets.AnthropicAPIKey); !errors.Is(err, secrets.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestIssueToken(t *testing.T) {
	cfg := config.GatewayAuth{JWTSecret: strings.Repeat("s", 32), Issuer: "adpilot"}

	token, err := issueToken(cfg, "ci", []string{workflows.HealthCheck}, time.Hour)
	if err != nil {
		t.Fatalf("issueToken: %v", err)
	}
	claims, err := auth.NewJWTService(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.Issuer}).Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Subject != "ci" || !claims.Allows(workflows.HealthCheck) || claims.Allows(workflows.CreateCampaign) {
		t.Fatalf("unexpected claims %+v", claims)
	}

	if _, err := issueToken(cfg, "ci", []string{"drop_tables"}, time.Hour); !errors.Is(err, workflows.ErrUnknownWorkflow) {
		t.Fatalf("expected ErrUnknownWorkflow, got %v", err)
	}
	if _, err := issueToken(config.GatewayAuth{}, "ci", nil, time.Hour); !errors.Is(err, auth.ErrAuthDisabled) {
		t.Fatalf("expected ErrAuthDisabled, got %v", err)
	}
}
