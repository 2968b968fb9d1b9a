package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Epiphytic/captain-hook/internal/decision"
	"github.com/Epiphytic/captain-hook/internal/humanqueue"
)

var humanCmd = &cobra.Command{
	Use:   "human",
	Short: "Manage the Tier 4 human review queue",
}

var humanListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending entries awaiting human review",
	RunE: func(cmd *cobra.Command, args []string) error {
		pending, err := app.human.ListPending()
		if err != nil {
			return fmt.Errorf("list pending: %w", err)
		}
		enc := json.NewEncoder(os.Stdout)
		// Pretty-print for a human at a terminal; emit compact JSON lines
		// when piped, so scripts consuming this command don't have to
		// reflow indented output.
		if term.IsTerminal(int(os.Stdout.Fd())) {
			enc.SetIndent("", "  ")
		}
		return enc.Encode(pending)
	},
}

var humanRespondCmd = &cobra.Command{
	Use:   "respond <id> <allow|deny|ask>",
	Short: "Record a human decision for a pending entry",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d := decision.Decision(args[1])
		if !d.Valid() {
			return fmt.Errorf("invalid decision %q: must be allow, deny, or ask", args[1])
		}
		reason, _ := cmd.Flags().GetString("reason")
		respondedBy, _ := cmd.Flags().GetString("by")
		codifyScope, _ := cmd.Flags().GetString("codify-scope")
		err := app.human.Respond(args[0], humanqueue.Response{
			ID: args[0], Decision: d, RecordAsAsk: d == decision.Ask,
			CodifyScope: codifyScope, Reason: reason, RespondedAt: time.Now(), RespondedBy: respondedBy,
		})
		if err != nil {
			return fmt.Errorf("respond: %w", err)
		}
		fmt.Printf("recorded %s for %s\n", d, args[0])
		return nil
	},
}

var humanPromoteCmd = &cobra.Command{
	Use:   "promote <id> <allow|deny>",
	Short: "Convert a completed Ask entry into a permanent allow/deny",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d := decision.Decision(args[1])
		if d != decision.Allow && d != decision.Deny {
			return fmt.Errorf("promote target must be allow or deny, got %q", args[1])
		}
		scope, _ := cmd.Flags().GetString("scope")
		if err := app.human.Promote(args[0], d, scope); err != nil {
			return fmt.Errorf("promote: %w", err)
		}
		fmt.Printf("promoted %s to permanent %s\n", args[0], d)
		return nil
	},
}

func init() {
	humanRespondCmd.Flags().String("reason", "", "human-readable justification")
	humanRespondCmd.Flags().String("by", "", "identity of the responder")
	humanRespondCmd.Flags().String("codify-scope", "", "scope this response should be recorded against")
	humanPromoteCmd.Flags().String("scope", "project", "scope the promoted decision should apply at")
}
