package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newPresetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preset",
		Short: "Manage stored presets",
	}
	cmd.AddCommand(newPresetImportCmd(), newPresetListCmd(), newPresetShowCmd(), newPresetDeleteCmd())
	return cmd
}

func newPresetImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <preset.json>",
		Short: "Validate and store a preset",
		Long: `Validate a preset JSON file and store it. A preset with the same name is replaced.

Example:
  janictl preset import story-mode.json --name "Story Mode"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := mustEnv(cmd)
			if err != nil {
				return err
			}

			pr, err := loadPresetFile(args[0])
			if err != nil {
				return err
			}
			if name := mustGetString(cmd, "name"); name != "" {
				pr.Name = name
			}
			if pr.Name == "" {
				return fmt.Errorf("preset has no name, pass --name")
			}

			if err := env.store.SavePreset(pr); err != nil {
				return fmt.Errorf("failed to save preset: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported preset %q (%d blocks, %d regex scripts)\n",
				pr.Name, len(pr.PromptBlocks), len(pr.RegexScripts))
			return nil
		},
	}
	cmd.Flags().String("name", "", "Store under this name instead of the file's")
	return cmd
}

func newPresetListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := mustEnv(cmd)
			if err != nil {
				return err
			}

			presets, err := env.store.ListPresets()
			if err != nil {
				return fmt.Errorf("failed to list presets: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(presets) == 0 {
				fmt.Fprintln(out, "No presets stored")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tBLOCKS\tSCRIPTS\tUPDATED\tACTIVE")
			for _, p := range presets {
				active := ""
				if p.Name == env.cfg.Preset.Active {
					active = "*"
				}
				fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n", p.Name, p.Blocks, p.Scripts, humanize.Time(p.UpdatedAt), active)
			}
			return tw.Flush()
		},
	}
}

func newPresetShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Print a stored preset as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := mustEnv(cmd)
			if err != nil {
				return err
			}

			pr, err := env.store.GetPreset(args[0])
			if err != nil {
				return fmt.Errorf("failed to get preset %q: %w", args[0], err)
			}
			return writeJSON(cmd.OutOrStdout(), pr)
		},
	}
}

func newPresetDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a stored preset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := mustEnv(cmd)
			if err != nil {
				return err
			}

			if err := env.store.DeletePreset(args[0]); err != nil {
				return fmt.Errorf("failed to delete preset %q: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted preset %q\n", args[0])
			if args[0] == env.cfg.Preset.Active {
				fmt.Fprintln(cmd.ErrOrStderr(), "Warning: this was the active preset, the server will fall back")
			}
			return nil
		},
	}
}
