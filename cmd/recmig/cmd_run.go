package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"recmig/internal/config"
	"recmig/internal/expr"
	"recmig/internal/lookup"
	"recmig/internal/pipeline"
	"recmig/internal/storage"
)

// partsEnv overrides the pipeline's parts selector when set.
const partsEnv = "RECMIG_PARTS"

var errInvalidConfig = errors.New("invalid configuration")

func newRunCmd(rf *rootFlags) *cobra.Command {
	var (
		cfgPath string
		parts   string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a pipeline file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			override := parts
			if !cmd.Flags().Changed("parts") {
				override = os.Getenv(partsEnv)
			}
			sum, err := runPipeline(ctx, rf, cfgPath, override, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "run %s: %d records in %s\n", sum.RunID, sum.Records, sum.Elapsed.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "pipeline.yaml", "pipeline file (.yaml, .yml or .json)")
	cmd.Flags().StringVar(&parts, "parts", "", "run parts selector, overrides the file and "+partsEnv)
	return cmd
}

func newValidateCmd(rf *rootFlags) *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a pipeline file and print its issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if err := reportIssues(cmd.OutOrStdout(), validate(p)); err != nil {
				return fmt.Errorf("%s: %w", cfgPath, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", cfgPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "pipeline.yaml", "pipeline file (.yaml, .yml or .json)")
	return cmd
}

// validate lints p and checks its storage kind against the backends compiled
// into this binary.
func validate(p config.Pipeline) []config.Issue {
	issues := config.ValidatePipeline(p)
	if k := p.Storage.Kind; k != "" && !slices.Contains(storage.ListKinds(), k) {
		issues = append(issues, config.Issue{
			Severity: config.SeverityError,
			Path:     "storage.kind",
			Message:  fmt.Sprintf("unknown storage kind %q; available: %s", k, strings.Join(storage.ListKinds(), ", ")),
		})
	}
	return issues
}

// reportIssues prints every issue and fails when any is an error.
func reportIssues(w io.Writer, issues []config.Issue) error {
	bad := false
	for _, iss := range issues {
		fmt.Fprintf(w, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
		if iss.Severity == config.SeverityError {
			bad = true
		}
	}
	if bad {
		return errInvalidConfig
	}
	return nil
}

func runPipeline(ctx context.Context, rf *rootFlags, cfgPath, parts string, stdin io.Reader, stdout io.Writer) (pipeline.Summary, error) {
	log := rf.log
	p, err := config.Load(cfgPath)
	if err != nil {
		return pipeline.Summary{}, err
	}
	if parts != "" {
		p.Parts = parts
	}
	if err := reportIssues(os.Stderr, validate(p)); err != nil {
		return pipeline.Summary{}, fmt.Errorf("%s: %w", cfgPath, err)
	}

	flush := setupMetrics(rf, p.Job, log)
	defer flush()

	eval, err := expr.New()
	if err != nil {
		return pipeline.Summary{}, err
	}

	opts := pipeline.EnvOptions{Eval: eval, Log: log}
	if oc := p.Lookups.Organizations; oc != nil {
		path := oc.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(p.InputDir, path)
		}
		orgs, err := lookup.LoadOrganizations(ctx, path, *oc, log)
		if err != nil {
			return pipeline.Summary{}, err
		}
		opts.Orgs = orgs
	}

	env := pipeline.NewEnv(p, opts)
	env.Stdin, env.Stdout = stdin, stdout
	log.Info("run: start", "config", cfgPath, "job", p.Job, "parts", p.Parts, "stages", len(p.Stages))

	stages, err := pipeline.Build(env, p)
	if err != nil {
		return pipeline.Summary{}, err
	}
	return pipeline.Run(ctx, env, stages)
}
