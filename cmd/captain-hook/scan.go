package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Epiphytic/captain-hook/internal/store"
)

var scanCmd = &cobra.Command{
	Use:   "scan <path>",
	Short: "Scan a single file for secrets the sanitizer pipeline would redact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		findings, err := store.ScanForSecrets(app.sanitizer, args[0])
		if err != nil {
			return fmt.Errorf("scan %s: %w", args[0], err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(findings); err != nil {
			return err
		}
		if len(findings) > 0 {
			os.Exit(1)
		}
		return nil
	},
}
