package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/runixer/janiproxy/internal/regex"
)

const maxPatternWidth = 48

func newRegexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "regex",
		Short: "Manage standalone regex scripts",
	}
	cmd.AddCommand(newRegexImportCmd(), newRegexListCmd())
	return cmd
}

func newRegexImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <scripts.json|scripts.yaml>",
		Short: "Replace the stored regex scripts",
		Long: `Replace all standalone regex scripts with the ones in the file. JSON files use
the preset field names (scriptName), YAML files use snake_case (script_name).
Patterns are compiled once so broken scripts are reported, but they are still
stored; the server skips them at request time.

Example:
  janictl regex import scripts.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := mustEnv(cmd)
			if err != nil {
				return err
			}

			raw, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			scripts, err := decodeScripts(args[0], raw)
			if err != nil {
				return err
			}

			for _, s := range scripts {
				if err := env.services.Engine.Check(s); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: script %q: %v\n", s.Name(), err)
				}
			}

			if err := env.store.ReplaceRegexScripts(scripts); err != nil {
				return fmt.Errorf("failed to save regex scripts: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %s\n", scriptsSummary(scripts))
			return nil
		},
	}
}

// decodeScripts reads a script list as YAML when the file says so, JSON
// otherwise.
func decodeScripts(path string, raw []byte) ([]regex.Script, error) {
	var scripts []regex.Script
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &scripts); err != nil {
			return nil, fmt.Errorf("invalid YAML scripts: %w", err)
		}
	default:
		if err := json.Unmarshal(raw, &scripts); err != nil {
			return nil, fmt.Errorf("invalid JSON scripts: %w", err)
		}
	}
	return scripts, nil
}

func newRegexListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored regex scripts in application order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := mustEnv(cmd)
			if err != nil {
				return err
			}

			scripts, err := env.store.GetRegexScripts()
			if err != nil {
				return fmt.Errorf("failed to load regex scripts: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(scripts) == 0 {
				fmt.Fprintln(out, "No regex scripts stored")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ORDER\tNAME\tSTAGE\tENABLED\tROLES\tPATTERN")
			// Disabled scripts are listed too, in the position they would run.
			sort.SliceStable(scripts, func(i, j int) bool { return scripts[i].Order < scripts[j].Order })
			for _, s := range scripts {
				roles := "all"
				if len(s.Roles) > 0 {
					roles = strings.Join(s.Roles, ",")
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%s\t%s\n",
					s.Order, s.Name(), s.EffectiveStage(), s.Enabled, roles, truncate(s.Pattern, maxPatternWidth))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintln(out, scriptsSummary(scripts))
			return nil
		},
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
