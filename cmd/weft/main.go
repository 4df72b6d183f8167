package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/weftlabs/weft/pkg/engine"
	"github.com/weftlabs/weft/pkg/output"
	"github.com/weftlabs/weft/pkg/schema"
)

// Version is set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	loadDotEnv() // load .env file if present (gitignored)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadDotEnv reads a .env file from the working directory and sets any
// variables that aren't already set in the environment. Lines are
// KEY=VALUE (or KEY="VALUE"). Comments (#) and blanks are skipped.
func loadDotEnv() {
	f, err := os.Open(".env")
	if err != nil {
		return // no .env file — that's fine
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

var rootCmd = &cobra.Command{
	Use:   "weft",
	Short: "Recipe-driven code generation engine",
	Long:  "weft — executes declarative recipes whose steps render templates, run tools, and weave AI-generated blocks into source files.",
}

// --- validate ---

var validateCmd = &cobra.Command{
	Use:   "validate [recipe.yaml]",
	Short: "Validate a recipe YAML file against the schema",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	rec, issues := schema.ValidateFile(args[0])

	var warnings []*schema.ValidationError
	for _, e := range issues {
		if e.Severity == "warning" {
			warnings = append(warnings, e)
		}
	}
	errs := schema.Errors(issues)

	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "  ⚠ [%s] %s\n", w.Phase, w.Message)
		if w.Path != "" {
			fmt.Fprintf(os.Stderr, "    at: %s\n", w.Path)
		}
	}
	if len(errs) > 0 {
		fmt.Fprintf(os.Stderr, "Validation failed: %d error(s)\n\n", len(errs))
		for i, e := range errs {
			fmt.Fprintf(os.Stderr, "  %d. [%s] %s\n", i+1, e.Phase, e.Message)
			if e.Path != "" {
				fmt.Fprintf(os.Stderr, "     at: %s\n", e.Path)
			}
		}
		return fmt.Errorf("%d validation error(s)", len(errs))
	}
	fmt.Printf("✓ %s is valid\n", args[0])
	if rec != nil && len(rec.Steps) > 1 {
		if order, err := schema.TopoOrder(rec.Steps); err == nil {
			fmt.Printf("  execution order: %s\n", strings.Join(order, ", "))
		}
	}
	return nil
}

// --- run ---

var (
	runVars     []string
	runDryRun   bool
	runOut      string
	runManifest string
	runVerbose  bool
)

var runCmd = &cobra.Command{
	Use:   "run [recipe.yaml]",
	Short: "Execute a recipe",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecipe,
}

func runRecipe(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if runVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	rec, err := schema.LoadFile(args[0])
	if err != nil {
		return err
	}

	inputs, err := parseVars(runVars)
	if err != nil {
		return err
	}

	eng := engine.New(logger)
	eng.Root = filepath.Dir(args[0])
	if !runDryRun {
		eng.Writer = output.NewDiskWriter(runOut)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := eng.Run(ctx, rec, engine.RunOptions{Inputs: inputs, DryRun: runDryRun})
	if err != nil {
		return err
	}

	if runManifest != "" {
		if err := writeManifest(runManifest, res); err != nil {
			return err
		}
	}

	printResult(res, runDryRun)
	switch res.Status {
	case engine.RunSucceeded:
		return nil
	case engine.RunCompletedWithErrors:
		return fmt.Errorf("run completed with errors")
	case engine.RunCancelled:
		return fmt.Errorf("run cancelled")
	default:
		return fmt.Errorf("run failed")
	}
}

func parseVars(pairs []string) (map[string]string, error) {
	vars := make(map[string]string, len(pairs))
	for _, p := range pairs {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			return nil, fmt.Errorf("invalid --var %q (want key=value)", p)
		}
		vars[kv[0]] = kv[1]
	}
	return vars, nil
}

func writeManifest(path string, res *engine.RecipeResult) error {
	b, err := yaml.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func printResult(res *engine.RecipeResult, dryRun bool) {
	fmt.Printf("run %s: %s (%s)\n", res.RunID, res.Status,
		res.Finished.Sub(res.Started).Round(time.Millisecond))
	for _, s := range res.Steps {
		mark := "✓"
		switch s.Status {
		case engine.StatusFailed:
			mark = "✗"
		case engine.StatusSkipped:
			mark = "-"
		case engine.StatusCancelled:
			mark = "!"
		}
		line := fmt.Sprintf("  %s %-20s %s", mark, s.Name, s.Status)
		if s.Summary != "" {
			line += "  " + s.Summary
		}
		if s.Error != "" {
			line += "  " + s.Error
		}
		if s.Reason != "" {
			line += "  (" + s.Reason + ")"
		}
		fmt.Println(line)
	}
	if dryRun && len(res.Ops) > 0 {
		fmt.Printf("dry run: %d file operation(s) planned\n", len(res.Ops))
		for _, op := range res.Ops {
			fmt.Printf("  %s %s (%d bytes)\n", op.Mode, op.Path, len(op.Content))
		}
	}
}

// --- schema export ---

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Recipe schema utilities",
}

var schemaExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print the recipe JSON Schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := schema.GenerateJSONSchema()
		if err != nil {
			return err
		}
		fmt.Println(string(b))
		return nil
	},
}

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("weft %s (%s)\n", version, commit)
	},
}

func init() {
	runCmd.Flags().StringArrayVar(&runVars, "var", nil, "Set a variable (key=value), repeatable")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Execute steps but write no files")
	runCmd.Flags().StringVar(&runOut, "out", "", "Root directory for generated files (default: current directory)")
	runCmd.Flags().StringVar(&runManifest, "manifest", "", "Write a YAML run manifest to this path")
	runCmd.Flags().BoolVar(&runVerbose, "verbose", false, "Enable debug logging")

	schemaCmd.AddCommand(schemaExportCmd)

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(versionCmd)
}
