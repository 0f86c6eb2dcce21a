package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"

	"github.com/mickamy/planfmt/internal/analyzer"
	"github.com/mickamy/planfmt/internal/config"
	"github.com/mickamy/planfmt/internal/diff"
	"github.com/mickamy/planfmt/internal/model"
	"github.com/mickamy/planfmt/internal/parser"
	"github.com/mickamy/planfmt/internal/render/text"
	"github.com/mickamy/planfmt/internal/runner"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "run":
		err = runCommand(args)
	case "explain":
		err = explainCommand(args)
	case "render":
		err = renderCommand(args)
	case "diff":
		err = diffCommand(args)
	case "version":
		err = versionCommand(args)
	case "help", "-h", "--help":
		usage()
		return
	default:
		_, _ = fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`planfmt - PostgreSQL EXPLAIN plan formatter

Usage:
  planfmt <command> [options]

Commands:
  run      Execute EXPLAIN (FORMAT JSON) for a query and save the plan
  explain  Run EXPLAIN and render the plan tree in one step
  render   Render a saved EXPLAIN JSON plan as a tree
  diff     Compare two plans and emit a Markdown or JSON summary
  version  Show CLI version information

Use "planfmt <command> -h" for command-specific help.`)
}

func applyConfigPath(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		path = strings.TrimSpace(os.Getenv("PLANFMT_CONFIG"))
	}
	return config.Apply(path)
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() {
		_, _ = fmt.Fprintf(os.Stdout, "Usage: planfmt run --url <url> (--sql file.sql | --query \"SELECT ...\") [--out plan.json]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	envURL := os.Getenv("DATABASE_URL")

	var (
		urlFlag     = fs.String("url", envURL, "PostgreSQL connection string; defaults to $DATABASE_URL")
		sqlPath     = fs.String("sql", "", "Path to the SQL file to EXPLAIN")
		inlineSQL   = fs.String("query", "", "Inline SQL string to EXPLAIN")
		analyzeFlag = fs.Bool("analyze", false, "Run EXPLAIN ANALYZE (executes the statement)")
		verbose     = fs.Bool("verbose", false, "Run EXPLAIN VERBOSE for output column lists")
		outPath     = fs.String("out", "", "Path to write the resulting JSON (defaults to stdout)")
		timeout     = fs.Duration("timeout", 0, "Optional execution timeout, e.g. 45s")
		configPath  = fs.String("config", "", "Path to configuration file (JSON). Falls back to $PLANFMT_CONFIG")
	)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fs.SetOutput(os.Stdout)
			fs.Usage()
			return nil
		}
		return err
	}
	if err := applyConfigPath(*configPath); err != nil {
		return err
	}
	connection := strings.TrimSpace(*urlFlag)
	if connection == "" {
		return fmt.Errorf("--url is required or set $DATABASE_URL")
	}
	sqlText, err := readStatement(*sqlPath, *inlineSQL)
	if err != nil {
		return err
	}

	ctx := context.Background()
	result, err := runner.Run(ctx, connection, sqlText, runner.Options{
		Timeout: *timeout,
		Analyze: *analyzeFlag,
		Verbose: *verbose,
	})
	if err != nil {
		return err
	}

	pretty, err := indentJSON(result)
	if err != nil {
		return err
	}

	if *outPath == "" {
		_, err = os.Stdout.Write(pretty)
		return err
	}
	return os.WriteFile(*outPath, pretty, 0o644)
}

func explainCommand(args []string) error {
	fs := flag.NewFlagSet("explain", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() {
		_, _ = fmt.Fprintf(os.Stdout, "Usage: planfmt explain --url <url> (--sql file.sql | --query \"SELECT ...\") [--analyze] [--detail all]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	envURL := os.Getenv("DATABASE_URL")

	var (
		urlFlag     = fs.String("url", envURL, "PostgreSQL connection string; defaults to $DATABASE_URL")
		sqlPath     = fs.String("sql", "", "Path to the SQL file to EXPLAIN")
		inlineSQL   = fs.String("query", "", "Inline SQL string to EXPLAIN")
		analyzeFlag = fs.Bool("analyze", false, "Run EXPLAIN ANALYZE (executes the statement)")
		verbose     = fs.Bool("verbose", false, "Run EXPLAIN VERBOSE for output column lists")
		outPath     = fs.String("out", "", "Output path (stdout if omitted)")
		detail      = fs.String("detail", "", "Attribute detail: none, plan, noncost or all (default from config)")
		noIDPrefix  = fs.Bool("no-id-prefix", false, "Drop the id prefix from plan lines")
		expand      = fs.Bool("expand", false, "Expand CTE references inline")
		hide        = fs.String("hide", "", "Comma-separated operator types to hide")
		summary     = fs.Bool("summary", false, "Append the cost profile after the tree")
		timeout     = fs.Duration("timeout", 0, "Optional execution timeout, e.g. 45s")
		configPath  = fs.String("config", "", "Path to configuration file (JSON). Falls back to $PLANFMT_CONFIG")
	)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fs.SetOutput(os.Stdout)
			fs.Usage()
			return nil
		}
		return err
	}
	if err := applyConfigPath(*configPath); err != nil {
		return err
	}

	connection := strings.TrimSpace(*urlFlag)
	if connection == "" {
		return fmt.Errorf("--url is required or set $DATABASE_URL")
	}
	sqlText, err := readStatement(*sqlPath, *inlineSQL)
	if err != nil {
		return err
	}

	ctx := context.Background()
	result, err := runner.Run(ctx, connection, sqlText, runner.Options{
		Timeout: *timeout,
		Analyze: *analyzeFlag,
		Verbose: *verbose,
	})
	if err != nil {
		return err
	}

	plan, err := parser.ParseJSON(bytes.NewReader(result))
	if err != nil {
		return err
	}

	opts, hidden, err := renderSettings(fs, *detail, *noIDPrefix, *expand, *hide)
	if err != nil {
		return err
	}

	target, cleanup, err := outputWriter(*outPath)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := renderTree(target, plan, opts, hidden); err != nil {
		return err
	}
	if *summary {
		return writeProfile(target, plan)
	}
	return nil
}

func renderCommand(args []string) error {
	fs := flag.NewFlagSet("render", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() {
		_, _ = fmt.Fprintf(os.Stdout, "Usage: planfmt render --input plan.json [--detail all] [--out file]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	var (
		input      = fs.String("input", "", "Path to EXPLAIN JSON input")
		outPath    = fs.String("out", "", "Output path (stdout if omitted)")
		detail     = fs.String("detail", "", "Attribute detail: none, plan, noncost or all (default from config)")
		noIDPrefix = fs.Bool("no-id-prefix", false, "Drop the id prefix from plan lines")
		expand     = fs.Bool("expand", false, "Expand CTE references inline")
		hide       = fs.String("hide", "", "Comma-separated operator types to hide")
		summary    = fs.Bool("summary", false, "Append the cost profile after the tree")
		configPath = fs.String("config", "", "Path to configuration file (JSON). Falls back to $PLANFMT_CONFIG")
	)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fs.SetOutput(os.Stdout)
			fs.Usage()
			return nil
		}
		return err
	}
	if err := applyConfigPath(*configPath); err != nil {
		return err
	}
	if *input == "" {
		return fmt.Errorf("--input is required")
	}

	plan, err := loadPlan(*input)
	if err != nil {
		return err
	}

	opts, hidden, err := renderSettings(fs, *detail, *noIDPrefix, *expand, *hide)
	if err != nil {
		return err
	}

	target, cleanup, err := outputWriter(*outPath)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := renderTree(target, plan, opts, hidden); err != nil {
		return err
	}
	if *summary {
		return writeProfile(target, plan)
	}
	return nil
}

func diffCommand(args []string) error {
	fs := flag.NewFlagSet("diff", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() {
		_, _ = fmt.Fprintf(os.Stdout, "Usage: planfmt diff --base base.json --target target.json [--format md]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	var (
		basePath   = fs.String("base", "", "Path to baseline EXPLAIN JSON")
		targetPath = fs.String("target", "", "Path to target EXPLAIN JSON")
		format     = fs.String("format", "md", "Output format: md or json")
		outPath    = fs.String("out", "", "Output path (stdout if omitted)")
		minDelta   = fs.Float64("min-delta", 0, "Minimum self-cost delta to report (default from config)")
		minPct     = fs.Float64("min-percent", 0, "Minimum percent change to report (default from config)")
		maxItems   = fs.Int("limit", 0, "Maximum rows per section (default from config)")
		configPath = fs.String("config", "", "Path to configuration file (JSON). Falls back to $PLANFMT_CONFIG")
	)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fs.SetOutput(os.Stdout)
			fs.Usage()
			return nil
		}
		return err
	}
	if err := applyConfigPath(*configPath); err != nil {
		return err
	}
	if *basePath == "" || *targetPath == "" {
		return fmt.Errorf("--base and --target are required")
	}

	baseAnalysis, err := loadAnalysis(*basePath)
	if err != nil {
		return fmt.Errorf("load base: %w", err)
	}
	targetAnalysis, err := loadAnalysis(*targetPath)
	if err != nil {
		return fmt.Errorf("load target: %w", err)
	}

	report, err := diff.Compare(baseAnalysis, targetAnalysis, diff.Options{
		MinSelfCostDelta: *minDelta,
		MinPercentChange: *minPct,
		MaxItems:         *maxItems,
	})
	if err != nil {
		return err
	}

	switch *format {
	case "md", "markdown":
		content := report.Markdown()
		if *outPath == "" {
			fmt.Print(content)
			return nil
		}
		return os.WriteFile(*outPath, []byte(content), 0o644)
	case "json":
		payload, err := report.JSON()
		if err != nil {
			return err
		}
		if *outPath == "" {
			os.Stdout.Write(payload)
			os.Stdout.WriteString("\n")
			return nil
		}
		return os.WriteFile(*outPath, payload, 0o644)
	default:
		return fmt.Errorf("unsupported format %q", *format)
	}
}

func versionCommand(args []string) error {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	short := fs.Bool("short", false, "Print only the version number")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fs.SetOutput(os.Stdout)
			fs.Usage()
			return nil
		}
		return err
	}

	v, meta := resolveVersion()
	if *short {
		fmt.Println(v)
		return nil
	}
	if meta != "" {
		fmt.Printf("planfmt %s (%s)\n", v, meta)
	} else {
		fmt.Printf("planfmt %s\n", v)
	}
	return nil
}

func resolveVersion() (string, string) {
	v := strings.TrimSpace(version)
	if v == "" {
		v = "dev"
	}

	var commit, buildTime string
	var dirty bool
	if info, ok := debug.ReadBuildInfo(); ok {
		if (v == "dev" || v == "(devel)") &&
			info.Main.Version != "" &&
			info.Main.Version != "(devel)" &&
			!strings.HasPrefix(info.Main.Version, "v0.0.0-") {
			v = info.Main.Version
		}
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				commit = setting.Value
			case "vcs.time":
				buildTime = setting.Value
			case "vcs.modified":
				dirty = setting.Value == "true"
			}
		}
	}

	var details []string
	if commit != "" {
		short := commit
		if len(short) > 12 {
			short = short[:12]
		}
		if dirty {
			short += "*"
			dirty = false
		}
		details = append(details, fmt.Sprintf("commit %s", short))
	}
	if buildTime != "" {
		details = append(details, fmt.Sprintf("built %s", buildTime))
	}
	if dirty {
		details = append(details, "modified workspace")
	}

	return v, strings.Join(details, ", ")
}

func readStatement(sqlPath, inlineSQL string) (string, error) {
	if sqlPath != "" && inlineSQL != "" {
		return "", fmt.Errorf("specify only one of --sql or --query")
	}
	if sqlPath != "" {
		data, err := os.ReadFile(sqlPath)
		if err != nil {
			return "", fmt.Errorf("read sql file: %w", err)
		}
		return string(data), nil
	}
	if inlineSQL != "" {
		return inlineSQL, nil
	}
	return "", fmt.Errorf("--sql or --query is required")
}

// renderSettings resolves the effective render options: the active config
// provides defaults, flags the caller actually set override them.
func renderSettings(fs *flag.FlagSet, detail string, noIDPrefix, expand bool, hide string) (text.Options, []string, error) {
	cfg := config.Active().Render
	cfg.HiddenTypes = append([]string(nil), cfg.HiddenTypes...)

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "detail":
			cfg.Detail = detail
		case "no-id-prefix":
			cfg.IDPrefix = !noIDPrefix
		case "expand":
			cfg.Expand = expand
		case "hide":
			cfg.HiddenTypes = splitHidden(hide)
		}
	})

	level, err := cfg.DetailLevel()
	if err != nil {
		return text.Options{}, nil, err
	}
	opts := text.Options{
		Detail:     level,
		NoIDPrefix: !cfg.IDPrefix,
		Expand:     cfg.Expand,
	}
	return opts, cfg.HiddenTypes, nil
}

func splitHidden(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func renderTree(target io.Writer, plan *model.Plan, opts text.Options, hidden []string) error {
	if plan.Root != nil && plan.Root.Cluster != nil {
		plan.Root.Cluster.SetMetadata(analyzer.New(analyzer.Options{HiddenTypes: hidden}))
	}
	return text.Render(target, plan, opts)
}

func writeProfile(target io.Writer, plan *model.Plan) error {
	analysis, err := analyzer.Analyze(plan)
	if err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString("\n")
	_, _ = fmt.Fprintf(&b, "Plan: %d nodes, total cost %.2f\n", analysis.NodeCount, analysis.TotalCost)
	if analysis.PlanningTimeMs > 0 {
		_, _ = fmt.Fprintf(&b, "Planning: %.3f ms\n", analysis.PlanningTimeMs)
	}
	if analysis.ExecutionTimeMs > 0 {
		_, _ = fmt.Fprintf(&b, "Execution: %.3f ms\n", analysis.ExecutionTimeMs)
	}
	if len(analysis.Costliest) > 0 {
		b.WriteString("Costliest nodes:\n")
		for _, n := range analysis.Costliest {
			_, _ = fmt.Fprintf(&b, "  %s#%d self %.2f (%.1f%% of plan)\n",
				n.Node.Name, n.Node.ID, n.SelfCost, n.PercentSelf*100)
		}
	}
	if len(analysis.DivergentNodes) > 0 {
		b.WriteString("Estimate drift:\n")
		for _, n := range analysis.DivergentNodes {
			_, _ = fmt.Fprintf(&b, "  %s#%d rows %.0f actual vs %.0f estimated\n",
				n.Node.Name, n.Node.ID, n.ActualRows, n.PlanRows)
		}
	}

	_, err = io.WriteString(target, b.String())
	return err
}

func loadPlan(path string) (*model.Plan, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() {
		_ = file.Close()
	}()
	return parser.ParseJSON(file)
}

func loadAnalysis(path string) (*analyzer.Analysis, error) {
	plan, err := loadPlan(path)
	if err != nil {
		return nil, err
	}
	return analyzer.Analyze(plan)
}

func outputWriter(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}

func indentJSON(data []byte) ([]byte, error) {
	var out bytes.Buffer
	if err := json.Indent(&out, data, "", "  "); err != nil {
		return nil, fmt.Errorf("indent json: %w", err)
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}
