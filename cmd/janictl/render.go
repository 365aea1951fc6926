package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/runixer/janiproxy/internal/assembler"
	"github.com/runixer/janiproxy/internal/janitor"
	"github.com/runixer/janiproxy/internal/preset"
	"github.com/runixer/janiproxy/internal/regex"
	"github.com/runixer/janiproxy/internal/storage"
)

func newRenderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render <request.json>",
		Short: "Render a Janitor request into the upstream body",
		Long: `Run a captured Janitor request through the rewrite, macro and assembly pipeline
and print the chat completion body that would be sent upstream. Nothing is sent.

The preset is taken from --preset-file, then --preset (stored by name), then the
configured active preset, then the built-in default. Use "-" to read the request
from stdin.

Example:
  janictl render request.json --preset "Story Mode" --explain`,
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
			req, err := janitor.Decode(raw)
			if err != nil {
				return fmt.Errorf("invalid request: %w", err)
			}

			pr, err := resolvePreset(env, mustGetString(cmd, "preset-file"), mustGetString(cmd, "preset"))
			if err != nil {
				return err
			}

			scripts, err := env.store.GetRegexScripts()
			if err != nil {
				return fmt.Errorf("failed to load regex scripts: %w", err)
			}

			res := env.services.Pipeline.Run(req, pr, scripts)
			if model := mustGetString(cmd, "model"); model != "" {
				res.Body.Model = model
			} else if env.cfg.Upstream.Model != "" {
				res.Body.Model = env.cfg.Upstream.Model
			}

			for _, d := range res.Diagnostics {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", d)
			}

			out := cmd.OutOrStdout()
			if mustGetBool(cmd, "explain") {
				writeExplain(out, pr)
			}
			return writeJSON(out, res.Body)
		},
	}

	cmd.Flags().String("preset-file", "", "Preset JSON file to render with")
	cmd.Flags().StringP("preset", "p", "", "Stored preset name to render with")
	cmd.Flags().String("model", "", "Override the model in the rendered body")
	cmd.Flags().Bool("explain", false, "List the preset's blocks in assembly order before the body")
	return cmd
}

// resolvePreset picks the preset in the same order the server does, with the
// explicit flags in front.
func resolvePreset(env *ctlEnv, file, name string) (*preset.Preset, error) {
	if file != "" {
		return loadPresetFile(file)
	}
	if name != "" {
		pr, err := env.store.GetPreset(name)
		if err != nil {
			return nil, fmt.Errorf("failed to get preset %q: %w", name, err)
		}
		return pr, nil
	}
	if active := env.cfg.Preset.Active; active != "" {
		pr, err := env.store.GetPreset(active)
		if err == nil {
			return pr, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("failed to get active preset %q: %w", active, err)
		}
		env.logger.Warn("Active preset not found in store, falling back", "preset", active)
	}
	if env.cfg.Preset.File != "" {
		return loadPresetFile(env.cfg.Preset.File)
	}
	return preset.Default(), nil
}

func loadPresetFile(path string) (*preset.Preset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open preset: %w", err)
	}
	defer f.Close()

	pr, err := preset.Load(f)
	if err != nil {
		return nil, fmt.Errorf("invalid preset %s: %w", path, err)
	}
	return pr, nil
}

// writeExplain prints one row per block reachable through the prompt order.
func writeExplain(w io.Writer, pr *preset.Preset) {
	fmt.Fprintf(w, "Preset: %s\n", pr.Name)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tIDENTIFIER\tENABLED\tKIND\tPOSITION\tDEPTH\tROLE")
	for i, b := range assembler.ActiveBlocks(pr) {
		kind := "prompt"
		if b.Marker {
			kind = "marker"
		}
		depth := "-"
		if b.InjectionPosition == preset.PositionInChat {
			depth = fmt.Sprint(b.InjectionDepth)
		}
		fmt.Fprintf(tw, "%d\t%s\t%t\t%s\t%s\t%s\t%s\n",
			i+1, b.Identifier, b.Enabled, kind, b.InjectionPosition, depth, b.EffectiveRole())
	}
	_ = tw.Flush()
	if n := len(pr.RegexScripts); n > 0 {
		fmt.Fprintf(w, "Embedded regex scripts: %d\n", n)
	}
	fmt.Fprintln(w)
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	return encoder.Encode(v)
}

// scriptsSummary is the count line shared by regex listings.
func scriptsSummary(scripts []regex.Script) string {
	enabled := 0
	for _, s := range scripts {
		if s.Enabled {
			enabled++
		}
	}
	return fmt.Sprintf("%d scripts (%d enabled)", len(scripts), enabled)
}
