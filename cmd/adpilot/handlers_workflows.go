package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/haasonsaas/adpilot/internal/agent"
	"github.com/haasonsaas/adpilot/internal/campaigns"
	"github.com/haasonsaas/adpilot/internal/mcp"
	"github.com/haasonsaas/adpilot/internal/workflows"
)

// runWorkflow runs one preset and prints the result. Parameters are checked
// before anything is started.
func runWorkflow(ctx context.Context, opts *rootOptions, out io.Writer, name string, params map[string]any, asJSON bool) error {
	if _, err := workflows.Render(name, params); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, opts, false)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	result, err := a.runner.Run(ctx, name, params)
	if err != nil {
		if result != nil && result.Text != "" {
			_ = printResult(out, result, asJSON)
		}
		return err
	}
	return printResult(out, result, asJSON)
}

func printResult(out io.Writer, result *agent.RunResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	_, err := fmt.Fprintln(out, strings.TrimSpace(result.Text))
	return err
}

// loadPlanParam reads a plan file for use as a workflow parameter.
func loadPlanParam(path string) (campaigns.Plan, error) {
	if strings.TrimSpace(path) == "" {
		return campaigns.Plan{}, errors.New("--plan is required")
	}
	return campaigns.LoadPlan(path)
}

// runValidateLocal checks a plan against the lookup tables only.
func runValidateLocal(out io.Writer, path string, asJSON bool) error {
	plan, err := loadPlanParam(path)
	if err != nil {
		return err
	}
	issues := campaigns.ValidatePlan(plan)

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(map[string]any{
			"valid":  !campaigns.HasErrors(issues),
			"issues": issues,
		}); err != nil {
			return err
		}
	} else if len(issues) == 0 {
		fmt.Fprintf(out, "plan %q is valid\n", plan.Name)
	} else {
		for _, issue := range issues {
			fmt.Fprintln(out, issue.String())
		}
	}

	if campaigns.HasErrors(issues) {
		return fmt.Errorf("plan %q has errors", plan.Name)
	}
	return nil
}

// chatter is the part of the workflow runner the REPL uses.
type chatter interface {
	Chat(ctx context.Context, message string, history []agent.CompletionMessage) (*agent.RunResult, error)
}

func runChat(ctx context.Context, opts *rootOptions, in io.Reader, out io.Writer) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, opts, false)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	fmt.Fprintln(out, `adpilot chat. Type "exit" to quit.`)
	return chatLoop(ctx, a.runner, in, out)
}

// chatLoop reads one request per line and carries the conversation between
// runs. A failed run is reported and leaves the history unchanged.
func chatLoop(ctx context.Context, c chatter, in io.Reader, out io.Writer) error {
	var history []agent.CompletionMessage
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		result, err := c.Chat(ctx, line, history)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		history = result.Messages
		fmt.Fprintln(out, strings.TrimSpace(result.Text))
	}
}

// runAccounts lists accounts straight from the Ads server, without the agent.
func runAccounts(ctx context.Context, opts *rootOptions, out io.Writer) error {
	cfg, logger, _, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if cfg.Ads.MCP.Command == "" {
		return errAdsNotConfigured
	}

	bridge := mcp.New(cfg.Ads.BridgeConfig(), logger)
	if err := bridge.Start(ctx); err != nil {
		return err
	}
	defer bridge.Stop()

	accounts, err := bridge.ListAccounts(ctx)
	if err != nil {
		return err
	}
	if s, ok := accounts.(string); ok {
		_, err := fmt.Fprintln(out, s)
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(accounts)
}
