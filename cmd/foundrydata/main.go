// Package main implements the foundrydata command line interface.
//
// Usage:
//
//	foundrydata generate --schema api.json -c 100 --seed 42
//	foundrydata generate --schema api.yaml --coverage guided --coverage-min 0.8
//
// Items are written to stdout as a JSON array; diagnostics and metrics go to
// stderr prefixed by [foundrydata].
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	foundrydata "github.com/foundrydata/foundrydata-go"
)

// Exit codes, stable across releases.
const (
	exitOK              = 0
	exitUsage           = 2
	exitSchemaInvalid   = 3
	exitUnsat           = 4
	exitFailFast        = 5
	exitCoverageNotMet  = 6
	exitInternal        = 10
)

type generateFlags struct {
	schemaPath       string
	count            int
	seed             uint32
	repairAttempts   int
	compat           string
	resolveExternals string
	printMetrics     bool

	coverageMode       string
	coverageDimensions []string
	coverageProfile    string
	coverageMin        float64
	coverageReport     string
	coverageReportMode string
}

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}
		os.Exit(exitInternal)
	}
}

// exitError carries a stable exit code through cobra.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "foundrydata",
		Short:         "Deterministic schema-driven test data with coverage",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newGenerateCommand())
	return root
}

func newGenerateCommand() *cobra.Command {
	flags := &generateFlags{}
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate instances from a JSON Schema or OpenAPI document",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd.Context(), flags)
		},
	}
	cmd.Flags().StringVar(&flags.schemaPath, "schema", "", "schema file (JSON or YAML)")
	cmd.Flags().IntVarP(&flags.count, "count", "c", 1, "number of instances")
	cmd.Flags().Uint32Var(&flags.seed, "seed", 1, "master seed")
	cmd.Flags().IntVar(&flags.repairAttempts, "repair-attempts", 1, "bounded repair attempts (1..3)")
	cmd.Flags().StringVar(&flags.compat, "compat", "lax", "external-ref handling: strict|lax")
	cmd.Flags().StringVar(&flags.resolveExternals, "resolve-externals", "", "registry snapshot file (NDJSON)")
	cmd.Flags().BoolVar(&flags.printMetrics, "print-metrics", false, "print the metrics snapshot to stderr")
	cmd.Flags().StringVar(&flags.coverageMode, "coverage", "off", "coverage mode: off|measure|guided")
	cmd.Flags().StringSliceVar(&flags.coverageDimensions, "coverage-dimensions", nil, "dimensions to cover")
	cmd.Flags().StringVar(&flags.coverageProfile, "coverage-profile", "balanced", "planner profile: quick|balanced|thorough")
	cmd.Flags().Float64Var(&flags.coverageMin, "coverage-min", 0, "minimum overall coverage in [0,1]")
	cmd.Flags().StringVar(&flags.coverageReport, "coverage-report", "", "write the coverage report to PATH")
	cmd.Flags().StringVar(&flags.coverageReportMode, "coverage-report-mode", "full", "report mode: full|summary")
	_ = cmd.MarkFlagRequired("schema")
	return cmd
}

// newLogger builds the stderr logger. FOUNDRY_ENV=production keeps the error
// presenter terse; it never affects generation output.
func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}
	if os.Getenv("FOUNDRY_ENV") != "production" {
		config = zap.NewDevelopmentConfig()
		config.OutputPaths = []string{"stderr"}
		config.ErrorOutputPaths = []string{"stderr"}
		config.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	}
	logger, err := config.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func diagLine(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "[foundrydata] "+format+"\n", args...)
}

func runGenerate(ctx context.Context, flags *generateFlags) error {
	logger := newLogger()
	defer func() { _ = logger.Sync() }()

	data, err := os.ReadFile(flags.schemaPath)
	if err != nil {
		diagLine("cannot read schema: %v", err)
		return &exitError{code: exitUsage, msg: err.Error()}
	}

	var schema any
	if err := json.Unmarshal(data, &schema); err != nil {
		if yamlErr := yaml.Unmarshal(data, &schema); yamlErr != nil {
			diagLine("schema is neither JSON nor YAML: %v", yamlErr)
			return &exitError{code: exitSchemaInvalid, msg: yamlErr.Error()}
		}
	}

	opts := &foundrydata.PipelineOptions{
		Count:              flags.count,
		Seed:               flags.seed,
		RepairAttempts:     flags.repairAttempts,
		StrictExternalRefs: flags.compat == "strict",
		Logger:             logger,
	}

	if flags.resolveExternals != "" {
		file, err := os.Open(flags.resolveExternals)
		if err != nil {
			diagLine("cannot open snapshot: %v", err)
			return &exitError{code: exitUsage, msg: err.Error()}
		}
		registry, err := foundrydata.ReadSnapshot(file)
		_ = file.Close()
		if err != nil {
			diagLine("snapshot rejected: %v", err)
			return &exitError{code: exitUsage, msg: err.Error()}
		}
		opts.Registry = registry
		diagLine("registry fingerprint %s", registry.Fingerprint())
	}

	if flags.coverageMode != "off" {
		dims := make([]foundrydata.Dimension, 0, len(flags.coverageDimensions))
		for _, d := range flags.coverageDimensions {
			dims = append(dims, foundrydata.Dimension(strings.TrimSpace(d)))
		}
		opts.Coverage = &foundrydata.CoverageConfig{
			Mode:              foundrydata.CoverageMode(flags.coverageMode),
			DimensionsEnabled: dims,
			Profile:           foundrydata.Profile(flags.coverageProfile),
			MinCoverage:       flags.coverageMin,
			ReportMode:        foundrydata.ReportMode(flags.coverageReportMode),
		}
	}

	// OpenAPI documents route through operation extraction; plain schemas go
	// straight to the pipeline.
	if doc := asOpenAPI(data); doc != nil {
		return runOperations(ctx, doc, opts, flags)
	}

	result, err := foundrydata.ExecutePipeline(ctx, schema, opts)
	if err != nil && result == nil {
		diagLine("pipeline error: %v", err)
		return &exitError{code: exitInternal, msg: err.Error()}
	}
	return emitResult(result, flags)
}

func asOpenAPI(data []byte) *foundrydata.OpenAPIDocument {
	doc, err := foundrydata.LoadOpenAPIDocument(data)
	if err != nil {
		return nil
	}
	return doc
}

// runOperations runs one pipeline per selected operation and merges items.
func runOperations(ctx context.Context, doc *foundrydata.OpenAPIDocument, opts *foundrydata.PipelineOptions, flags *generateFlags) error {
	operations := doc.Operations()
	if len(operations) == 0 {
		diagLine("document has no operations with response schemas")
		return &exitError{code: exitSchemaInvalid, msg: "no operations"}
	}
	var allItems []any
	var last *foundrydata.PipelineResult
	for _, op := range operations {
		opOpts := *opts
		opOpts.OperationKey = op.Key
		opOpts.Operations = operations
		result, err := foundrydata.ExecutePipeline(ctx, doc.ResponseSchema(op), &opOpts)
		if err != nil && result == nil {
			diagLine("operation %s failed: %v", op.Key, err)
			return &exitError{code: exitInternal, msg: err.Error()}
		}
		diagLine("operation %s: %d valid instance(s)", op.Key, result.InstancesValid)
		allItems = append(allItems, result.Items...)
		last = result
	}
	last.Items = allItems
	return emitResult(last, flags)
}

func emitResult(result *foundrydata.PipelineResult, flags *generateFlags) error {
	for _, envelope := range result.Diagnostics {
		diagLine("%s %s %s", envelope.Phase, envelope.Code, envelope.CanonPath)
	}
	if flags.printMetrics {
		metricsJSON, err := json.Marshal(result.Metrics)
		if err == nil {
			diagLine("metrics %s", metricsJSON)
		}
	}

	items := result.Items
	if items == nil {
		items = []any{}
	}
	encoded, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return &exitError{code: exitInternal, msg: err.Error()}
	}
	fmt.Println(string(encoded))

	if report := result.Artifacts.CoverageReport; report != nil {
		if flags.coverageReport != "" {
			reportJSON, err := json.MarshalIndent(report, "", "  ")
			if err == nil {
				err = os.WriteFile(flags.coverageReport, reportJSON, 0o644)
			}
			if err != nil {
				diagLine("cannot write coverage report: %v", err)
				return &exitError{code: exitInternal, msg: err.Error()}
			}
		}
		diagLine("coverage overall %.3f (%s)", report.Metrics.Overall, report.Metrics.CoverageStatus)
		if report.Metrics.CoverageStatus == foundrydata.CoverageMinNotMet {
			return &exitError{code: exitCoverageNotMet, msg: "COVERAGE_THRESHOLD_NOT_MET"}
		}
	}

	switch {
	case result.FailFast:
		return &exitError{code: exitFailFast, msg: "fail-fast"}
	case result.Unsat:
		return &exitError{code: exitUnsat, msg: "schema is unsatisfiable"}
	case result.Status == foundrydata.PipelineFailed:
		return &exitError{code: exitInternal, msg: "pipeline failed"}
	}
	return nil
}
