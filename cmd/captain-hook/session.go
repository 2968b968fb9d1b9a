package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/blake2b"
)

var registerCmd = &cobra.Command{
	Use:   "register <session-id> <role>",
	Short: "Register a session's role, task, and prompt reference",
	Args:  cobra.RangeArgs(2, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		task, _ := cmd.Flags().GetString("task")
		promptPath, _ := cmd.Flags().GetString("prompt-path")
		promptHash, _ := cmd.Flags().GetString("prompt-hash")
		registeredBy, _ := cmd.Flags().GetString("by")
		if promptHash == "" && promptPath != "" {
			hash, err := hashPromptFile(promptPath)
			if err != nil {
				return fmt.Errorf("hash prompt file: %w", err)
			}
			promptHash = hash
		}
		if err := app.sessions.Register(args[0], args[1], task, promptPath, promptHash, registeredBy); err != nil {
			return fmt.Errorf("register session: %w", err)
		}
		fmt.Printf("registered %s as role %q\n", args[0], args[1])
		return nil
	},
}

var enableCmd = &cobra.Command{
	Use:   "enable <session-id>",
	Short: "Re-enable gating for a previously disabled session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := app.sessions.Enable(args[0]); err != nil {
			return fmt.Errorf("enable session: %w", err)
		}
		fmt.Printf("enabled %s\n", args[0])
		return nil
	},
}

var disableCmd = &cobra.Command{
	Use:   "disable <session-id>",
	Short: "Disable gating for a session (every tool call auto-allows)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := app.sessions.Disable(args[0]); err != nil {
			return fmt.Errorf("disable session: %w", err)
		}
		fmt.Printf("disabled %s\n", args[0])
		return nil
	},
}

// hashPromptFile digests a system prompt file with blake2b-256 so two
// sessions registered against byte-identical prompts compare equal without
// ever storing the prompt body itself in the registration file.
func hashPromptFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func init() {
	registerCmd.Flags().String("task", "", "free-text task description")
	registerCmd.Flags().String("prompt-path", "", "path to the system prompt that produced this session")
	registerCmd.Flags().String("prompt-hash", "", "content hash of the system prompt")
	registerCmd.Flags().String("by", "", "identity performing the registration")
}
