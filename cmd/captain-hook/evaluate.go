package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Epiphytic/captain-hook/internal/cascade"
	"github.com/Epiphytic/captain-hook/internal/decision"
)

// hookRequest is the stdin contract: every tool-call hook invocation reads
// one of these and nothing else.
type hookRequest struct {
	SessionID string         `json:"session_id"`
	ToolName  string         `json:"tool_name"`
	ToolInput map[string]any `json:"tool_input"`
	Cwd       string         `json:"cwd"`
}

type hookSpecificOutput struct {
	PermissionDecision string `json:"permissionDecision"`
}

type permissionDecisionResponse struct {
	HookSpecificOutput hookSpecificOutput `json:"hookSpecificOutput"`
}

type plainDecisionResponse struct {
	Decision string `json:"decision"`
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Gate a single tool call read from stdin as a hook request",
	RunE:  runEvaluate,
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("read hook request: %w", err)
	}

	var req hookRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		// Malformed input is never an auto-allow: soft-deny with a
		// diagnostic reason, same posture as an internal runner error.
		return emitVerdict(decision.Deny, fmt.Sprintf("malformed hook request: %v", err))
	}

	if override, _ := cmd.Flags().GetString("session-id"); override != "" {
		req.SessionID = override
	}

	rec := app.runner.Evaluate(context.Background(), cascade.Request{
		SessionID: req.SessionID,
		ToolName:  req.ToolName,
		ToolInput: cascade.ToolInput(req.ToolInput),
	})

	return emitVerdict(rec.Decision, rec.Reason)
}

// emitVerdict writes the selected stdout shape and exits with the matching
// code (spec.md §6: exit 0 for allow/ask, exit 1 or 2 for deny depending on
// shape).
func emitVerdict(d decision.Decision, reason string) error {
	enc := json.NewEncoder(os.Stdout)

	if hookShape == "decision" {
		if err := enc.Encode(plainDecisionResponse{Decision: string(d)}); err != nil {
			return err
		}
		if d == decision.Deny {
			os.Exit(2)
		}
		return nil
	}

	if err := enc.Encode(permissionDecisionResponse{
		HookSpecificOutput: hookSpecificOutput{PermissionDecision: string(d)},
	}); err != nil {
		return err
	}
	if reason != "" && logger != nil {
		logger.Sugar().Debugf("captain-hook: %s (%s)", d, reason)
	}
	if d == decision.Deny {
		os.Exit(1)
	}
	return nil
}
