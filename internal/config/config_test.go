package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Setenv("ADS_SERVER", "/usr/local/bin/google-ads-mcp")
	path := writeConfig(t, "adpilot.yaml", `
llm:
  model: claude-opus-4-20250514
  timeout: 90s
ads:
  mcp:
    command: ${ADS_SERVER}
    args: ["--stdio"]
    timeout: 45s
  customer_id: 123-456-7890
research:
  base_url: https://research.example.com
  rate_limit:
    enabled: false
loop:
  max_iterations: 6
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Ads.MCP.Command != "/usr/local/bin/google-ads-mcp" {
		t.Errorf("env not expanded: %q", cfg.Ads.MCP.Command)
	}
	if cfg.Ads.MCP.Timeout != 45*time.Second || cfg.LLM.Timeout != 90*time.Second {
		t.Errorf("durations = %v, %v", cfg.Ads.MCP.Timeout, cfg.LLM.Timeout)
	}
	if cfg.LLM.Model != "claude-opus-4-20250514" || cfg.LLM.Provider != "anthropic" {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.Research.RateLimit.Enabled {
		t.Error("explicit rate_limit.enabled=false overridden by default")
	}
	if cfg.Research.RateLimit.BurstSize != 10 {
		t.Errorf("unset burst_size lost its default: %d", cfg.Research.RateLimit.BurstSize)
	}
	if cfg.Loop.MaxIterations != 6 || cfg.Loop.Concurrency != 4 {
		t.Errorf("loop = %+v", cfg.Loop)
	}
	if cfg.Gateway.Addr != ":8080" || !cfg.Audit.Enabled {
		t.Errorf("defaults missing: gateway=%q audit=%v", cfg.Gateway.Addr, cfg.Audit.Enabled)
	}
}

func TestLoadJSON5(t *testing.T) {
	path := writeConfig(t, "adpilot.json5", `{
  // comments and trailing commas are allowed
  notify: {webhook_url: "https://hooks.slack.com/services/T/B/X", channel: "#ads",},
  logging: {level: "debug", format: "json"},
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Notify.Channel != "#ads" || cfg.Logging.Level != "debug" {
		t.Errorf("cfg = %+v %+v", cfg.Notify, cfg.Logging)
	}
	if cfg.Notify.Username != "adpilot" {
		t.Errorf("default username lost: %q", cfg.Notify.Username)
	}
}

func TestLoadInclude(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "base.yaml"), []byte("gateway:\n  addr: \":9000\"\nloop:\n  max_iterations: 3\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	main := filepath.Join(dir, "adpilot.yaml")
	if err := os.WriteFile(main, []byte("$include: base.yaml\nloop:\n  max_iterations: 8\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(main)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gateway.Addr != ":9000" {
		t.Errorf("included value missing: %q", cfg.Gateway.Addr)
	}
	if cfg.Loop.MaxIterations != 8 {
		t.Errorf("including file must win: %d", cfg.Loop.MaxIterations)
	}
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	_ = os.WriteFile(a, []byte("$include: b.yaml\n"), 0o600)
	_ = os.WriteFile(b, []byte("$include: a.yaml\n"), 0o600)

	if _, err := Load(a); err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Errorf("error = %v, want include cycle", err)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "adpilot.yaml", `
gateway:
  addr: ":8080"
  extra: true
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.Model == "" || cfg.Research.Timeout != 30*time.Second {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unsupported provider", func(c *Config) { c.LLM.Provider = "openai" }, "llm.provider"},
		{"bad customer id", func(c *Config) { c.Ads.CustomerID = "12345" }, "ads.customer_id"},
		{"bad login customer id", func(c *Config) { c.Ads.LoginCustomerID = "abc" }, "ads.login_customer_id"},
		{"traversal in command", func(c *Config) { c.Ads.MCP.Command = "../bin/google-ads-mcp" }, "ads.mcp"},
		{"research url", func(c *Config) { c.Research.BaseURL = "research.example.com" }, "research.base_url"},
		{"plain http webhook", func(c *Config) { c.Notify.WebhookURL = "http://hooks.slack.com/x" }, "notify.webhook_url"},
		{"short jwt secret", func(c *Config) { c.Gateway.Auth.JWTSecret = "short" }, "jwt_secret"},
		{"empty addr", func(c *Config) { c.Gateway.Addr = "" }, "gateway.addr"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"sampling", func(c *Config) { c.Tracing.SamplingRate = 2 }, "sampling_rate"},
		{"negative loop", func(c *Config) { c.Loop.MaxIterations = -1 }, "loop limits"},
		{"audit path", func(c *Config) { c.Audit.Path = "" }, "audit.path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() = %v, want *ValidationError", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}

	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}

func TestBridgeConfigInjectsCredentials(t *testing.T) {
	ads := AdsConfig{
		DeveloperToken:  "dev-token",
		LoginCustomerID: "111-222-3333",
	}
	ads.MCP.Command = "google-ads-mcp"
	ads.MCP.Env = map[string]string{"GOOGLE_ADS_USE_PROTO_PLUS": "true"}

	bc := ads.BridgeConfig()
	if bc.Env[EnvDeveloperToken] != "dev-token" || bc.Env[EnvLoginCustomerID] != "1112223333" {
		t.Errorf("env = %v", bc.Env)
	}
	if bc.Env["GOOGLE_ADS_USE_PROTO_PLUS"] != "true" {
		t.Error("existing env dropped")
	}
	if _, ok := ads.MCP.Env[EnvDeveloperToken]; ok {
		t.Error("BridgeConfig mutated the original env map")
	}
}

type mapSource map[string]string

func (m mapSource) Lookup(name string) (string, error) {
	if name == "broken" {
		return "", errors.New("keychain locked")
	}
	return m[name], nil
}

func TestResolveSecrets(t *testing.T) {
	cfg := Default()
	cfg.Research.APIKey = "from-file"
	src := mapSource{
		"ANTHROPIC_API_KEY":        "sk-ant-xyz",
		"ADPILOT_RESEARCH_API_KEY": "from-keychain",
	}
	if err := cfg.ResolveSecrets(src); err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.APIKey != "sk-ant-xyz" {
		t.Errorf("api key = %q", cfg.LLM.APIKey)
	}
	if cfg.Research.APIKey != "from-file" {
		t.Errorf("file value overridden: %q", cfg.Research.APIKey)
	}
	if cfg.Notify.WebhookURL != "" {
		t.Errorf("unset secret filled: %q", cfg.Notify.WebhookURL)
	}
}

func TestJSONSchema(t *testing.T) {
	data, err := JSONSchema()
	if err != nil {
		t.Fatal(err)
	}
	var schema map[string]any
	if err := json.Unmarshal(data, &schema); err != nil {
		t.Fatal(err)
	}
	props, _ := schema["properties"].(map[string]any)
	for _, key := range []string{"llm", "ads", "research", "notify", "gateway", "audit", "loop"} {
		if _, ok := props[key]; !ok {
			t.Errorf("schema missing %q", key)
		}
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("ADPILOT_TEST_SET", "value")
	t.Setenv("ADPILOT_TEST_EMPTY", "")

	tests := []struct {
		in   string
		want string
	}{
		{"${ADPILOT_TEST_SET}", "value"},
		{"$ADPILOT_TEST_SET/x", "$ADPILOT_TEST_SET/x"},
		{"ab$cd", "ab$cd"},
		{"${ADPILOT_TEST_UNSET_VAR:-}", ""},
		{"${ADPILOT_TEST_EMPTY:-fallback}", "fallback"},
		{"${ADPILOT_TEST_SET:-fallback}", "value"},
		{"${ADPILOT_TEST_UNSET_VAR}", ""},
	}
	for _, tt := range tests {
		if got := expandEnv(tt.in); got != tt.want {
			t.Errorf("expandEnv(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoadRejectsMultipleDocuments(t *testing.T) {
	path := writeConfig(t, "adpilot.yaml", "loop:\n  max_iterations: 3\n---\nloop:\n  max_iterations: 4\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "multiple") {
		t.Fatalf("error = %v, want multiple documents", err)
	}
}

func TestLoadIncludeKeyAndLiteralDollar(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "base.yaml"), []byte("gateway:\n  addr: \":9100\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	main := filepath.Join(dir, "adpilot.yaml")
	content := "include: [base.yaml]\ngateway:\n  auth:\n    jwt_secret: \"ab$cd-0123456789-0123456789-0123456789\"\n"
	if err := os.WriteFile(main, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(main)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Gateway.Addr != ":9100" {
		t.Errorf("included value missing: %q", cfg.Gateway.Addr)
	}
	if cfg.Gateway.Auth.JWTSecret != "ab$cd-0123456789-0123456789-0123456789" {
		t.Errorf("literal $ not preserved: %q", cfg.Gateway.Auth.JWTSecret)
	}
}

func TestLoadRejectsBothIncludeKeys(t *testing.T) {
	path := writeConfig(t, "adpilot.yaml", "$include: a.yaml\ninclude: b.yaml\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "both") {
		t.Fatalf("error = %v, want both include keys rejected", err)
	}
}
