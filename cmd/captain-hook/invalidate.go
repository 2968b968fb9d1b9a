package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Epiphytic/captain-hook/internal/decision"
)

var invalidateCmd = &cobra.Command{
	Use:   "invalidate",
	Short: "Drop recorded decisions from a scope's store",
}

var invalidateRoleCmd = &cobra.Command{
	Use:   "role <role>",
	Short: "Drop every recorded decision for a role",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scope := scopeFlagOrDefault(cmd)
		store, ok := app.stores[scope]
		if !ok {
			return fmt.Errorf("no store wired for scope %s", scope)
		}
		if err := store.InvalidateRole(scope, args[0]); err != nil {
			return fmt.Errorf("invalidate role: %w", err)
		}
		// In-memory caches for this process are dropped too, though a new
		// process will rebuild them fresh from disk regardless — the
		// similarity indices have no per-role delete, so this matters only
		// for a long-lived process that keeps calling Evaluate afterward.
		app.cache.DeleteRole(args[0])
		fmt.Printf("invalidated role %q at scope %s\n", args[0], scope)
		return nil
	},
}

var invalidateAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Drop every recorded decision at a scope",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		scope := scopeFlagOrDefault(cmd)
		store, ok := app.stores[scope]
		if !ok {
			return fmt.Errorf("no store wired for scope %s", scope)
		}
		if err := store.InvalidateAll(scope); err != nil {
			return fmt.Errorf("invalidate all: %w", err)
		}
		fmt.Printf("invalidated all decisions at scope %s\n", scope)
		return nil
	},
}

func scopeFlagOrDefault(cmd *cobra.Command) decision.ScopeLevel {
	name, _ := cmd.Flags().GetString("scope")
	return scopeFromFlag(name)
}

func scopeFromFlag(name string) decision.ScopeLevel {
	switch name {
	case "org":
		return decision.ScopeOrg
	case "user":
		return decision.ScopeUser
	case "role":
		return decision.ScopeRole
	default:
		return decision.ScopeProject
	}
}

func init() {
	invalidateRoleCmd.Flags().String("scope", "project", "scope to invalidate: org, project, user, or role")
	invalidateAllCmd.Flags().String("scope", "project", "scope to invalidate: org, project, user, or role")
}
