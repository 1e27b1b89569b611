// Command assetctl resolves, fetches and inspects asset identifiers from
// the command line.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/objectfs/assetresolver/internal/adapter"
	"github.com/objectfs/assetresolver/internal/config"
	"github.com/objectfs/assetresolver/pkg/health"
	"github.com/objectfs/assetresolver/pkg/resolver"
	"github.com/objectfs/assetresolver/pkg/types"
	"github.com/objectfs/assetresolver/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("assetctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", "", "YAML configuration file")
	cacheDir := fs.String("cache", "", "Cache directory (overrides configuration)")
	logLevel := fs.String("log-level", "", "Log level: DEBUG, INFO, WARN, ERROR")
	jsonOut := fs.Bool("json", false, "Print results as JSON")
	serve := fs.Bool("metrics", false, "Serve metrics while the command runs")
	fs.Usage = func() { printUsage(stderr) }

	if err := fs.Parse(args); err != nil {
		return 2
	}
	rest := fs.Args()
	if len(rest) == 0 {
		printUsage(stderr)
		return 2
	}
	cmd, cmdArgs := rest[0], rest[1:]
	if cmd == "help" {
		printUsage(stdout)
		return 0
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading configuration: %v\n", err)
		return 1
	}
	if *cacheDir != "" {
		cfg.Cache.Directory = *cacheDir
	}
	if *logLevel != "" {
		cfg.Global.LogLevel = *logLevel
	}
	if *serve {
		cfg.Global.MetricsEnabled = true
	}

	logger, closeLog, err := utils.NewLogger(utils.LoggingOptions{
		Level:  cfg.Global.LogLevel,
		Format: cfg.Global.LogFormat,
		File:   cfg.Global.LogFile,
		Output: stderr,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error creating logger: %v\n", err)
		return 1
	}
	defer closeLog()

	a, err := adapter.New(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := a.Start(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(stopCtx)
	}()

	out := &printer{w: stdout, json: *jsonOut}
	r := a.Resolver()

	// One scope spans the whole command so repeated identifiers and
	// packages are resolved once.
	ctx, layer := r.BeginScope(ctx, nil)
	defer r.EndScope(ctx, layer)

	switch cmd {
	case "resolve":
		return cmdResolve(ctx, r, out, stderr, cmdArgs, false)
	case "fetch":
		return cmdResolve(ctx, r, out, stderr, cmdArgs, true)
	case "stat":
		return cmdStat(ctx, r, out, stderr, cmdArgs)
	case "mtime":
		return cmdMTime(ctx, r, out, stderr, cmdArgs)
	case "package":
		return cmdPackage(ctx, r, out, stderr, cmdArgs)
	case "stats":
		return cmdStats(r, out)
	case "health":
		return cmdHealth(ctx, r, a.Health(), out, stderr, cmdArgs)
	case "config":
		return cmdConfig(cfg, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", cmd)
		printUsage(stderr)
		return 2
	}
}

func loadConfig(file string) (*config.Configuration, error) {
	cfg := config.NewDefault()
	if file != "" {
		if err := cfg.LoadFromFile(file); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `assetctl - resolve asset identifiers to local files

Usage: assetctl [flags] <command> [args]

Flags:
  -config <file>     YAML configuration file
  -cache <dir>       Cache directory (default: $TMPDIR/assetresolver)
  -log-level <lvl>   DEBUG, INFO, WARN or ERROR
  -json              Print results as JSON
  -metrics           Serve metrics while the command runs

Commands:
  resolve <id>...          Print the local path of each identifier
  fetch <id>...            Resolve and download each identifier
  stat <id>...             Print backend metadata for each identifier
  mtime <id>...            Print the modification time of each identifier
  package <path> [entry]   Print the root entry, or check for an entry
  stats                    Print resolution cache statistics
  health [id]...           Print backend health, or the health of each id's target
  config                   Print the effective configuration
  help                     Show this help message

Examples:
  assetctl resolve s3://assets/models/tree.obj
  assetctl fetch assets/models/tree.obj.s3
  assetctl -json stat sql://db.example/chars/hero.usd
  assetctl package scene.usdz`)
}

type printer struct {
	w    io.Writer
	json bool
}

func (p *printer) emit(v any, text string) {
	if p.json {
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(v)
		return
	}
	fmt.Fprintln(p.w, text)
}

func needArgs(stderr io.Writer, cmd string, args []string, n int) bool {
	if len(args) < n {
		fmt.Fprintf(stderr, "%s: expected at least %d argument(s)\n", cmd, n)
		return false
	}
	return true
}

func cmdResolve(ctx context.Context, r *resolver.Resolver, out *printer, stderr io.Writer, ids []string, fetch bool) int {
	if !needArgs(stderr, "resolve", ids, 1) {
		return 2
	}
	code := 0
	for _, id := range ids {
		path, err := r.Resolve(ctx, id)
		if err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", id, err)
			code = 1
			continue
		}
		if path == "" {
			fmt.Fprintf(stderr, "%s: not found\n", id)
			code = 1
			continue
		}
		if fetch {
			if err := r.FetchToLocalPath(ctx, id); err != nil {
				fmt.Fprintf(stderr, "%s: %v\n", id, err)
				code = 1
				continue
			}
		}
		out.emit(map[string]string{"identifier": id, "path": path}, path)
	}
	return code
}

func cmdStat(ctx context.Context, r *resolver.Resolver, out *printer, stderr io.Writer, ids []string) int {
	if !needArgs(stderr, "stat", ids, 1) {
		return 2
	}
	code := 0
	for _, id := range ids {
		info, err := r.ResolveWithInfo(ctx, id)
		if err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", id, err)
			code = 1
			continue
		}
		out.emit(info, formatInfo(info))
	}
	return code
}

func formatInfo(info types.AssetInfo) string {
	ts := "-"
	if info.Timestamp != 0 {
		ts = info.Timestamp.Time().UTC().Format(time.RFC3339)
	}
	path := info.LocalPath
	if path == "" {
		path = "-"
	}
	return fmt.Sprintf("%s\tbackend=%s state=%s modified=%s version=%q path=%s",
		info.Identifier, info.Backend, info.State, ts, info.Version, path)
}

func cmdMTime(ctx context.Context, r *resolver.Resolver, out *printer, stderr io.Writer, ids []string) int {
	if !needArgs(stderr, "mtime", ids, 1) {
		return 2
	}
	code := 0
	for _, id := range ids {
		// Backend identifiers need a resolved entry to report a time.
		if _, err := r.Resolve(ctx, id); err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", id, err)
			code = 1
			continue
		}
		ts, err := r.GetModificationTimestamp(ctx, id)
		if err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", id, err)
			code = 1
			continue
		}
		t := ts.Time().UTC()
		out.emit(map[string]any{"identifier": id, "modified": t}, fmt.Sprintf("%s\t%s", id, t.Format(time.RFC3339Nano)))
	}
	return code
}

func cmdPackage(ctx context.Context, r *resolver.Resolver, out *printer, stderr io.Writer, args []string) int {
	if !needArgs(stderr, "package", args, 1) {
		return 2
	}
	pkg := args[0]
	if len(args) == 1 {
		root, err := r.PackageRoot(ctx, pkg)
		if err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", pkg, err)
			return 1
		}
		out.emit(map[string]string{"package": pkg, "root": root}, root)
		return 0
	}

	code := 0
	for _, entry := range args[1:] {
		rng, err := r.OpenPackaged(ctx, pkg, entry)
		if err != nil {
			fmt.Fprintf(stderr, "%s[%s]: %v\n", pkg, entry, err)
			code = 1
			continue
		}
		out.emit(map[string]any{"package": pkg, "entry": entry, "offset": rng.Offset, "size": rng.Size},
			fmt.Sprintf("%s\toffset=%d size=%s", entry, rng.Offset, utils.FormatBytes(rng.Size)))
	}
	return code
}

func cmdStats(r *resolver.Resolver, out *printer) int {
	stats := r.Stats()
	if out.json {
		out.emit(stats, "")
		return 0
	}

	w := tabwriter.NewWriter(out.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BACKEND\tTARGET\tENTRIES\tMISSING\tPENDING\tFETCHED")
	backends := make([]string, 0, len(stats))
	for b := range stats {
		backends = append(backends, b)
	}
	sort.Strings(backends)
	for _, b := range backends {
		targets := make([]string, 0, len(stats[b]))
		for t := range stats[b] {
			targets = append(targets, t)
		}
		sort.Strings(targets)
		for _, t := range targets {
			s := stats[b][t]
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\n", b, t, s.Entries, s.Missing, s.NeedsFetching, s.Fetched)
		}
	}
	_ = w.Flush()
	return 0
}

func cmdHealth(ctx context.Context, r *resolver.Resolver, tracker *health.Tracker, out *printer, stderr io.Writer, ids []string) int {
	if len(ids) == 0 {
		rep := tracker.Report()
		if out.json {
			out.emit(rep, "")
			return 0
		}
		fmt.Fprintf(out.w, "status=%s\n", rep.Status)
		w := tabwriter.NewWriter(out.w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "COMPONENT\tSTATE\tERRORS\tLAST ERROR")
		for _, c := range rep.Components {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", c.Name, c.State, c.ConsecutiveErrors, c.LastErrorMessage)
		}
		_ = w.Flush()
		return 0
	}

	code := 0
	for _, id := range ids {
		// Probing the identifier is what records its target's health.
		info, err := r.ResolveWithInfo(ctx, id)
		if err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", id, err)
			code = 1
		}
		if info.Backend == "" {
			continue
		}
		name := health.Component(info.Backend, info.Target)
		c, err := tracker.GetComponentHealth(name)
		if err != nil {
			out.emit(map[string]string{"identifier": id, "component": name, "state": "untracked"},
				fmt.Sprintf("%s\t%s\tuntracked", id, name))
			continue
		}
		out.emit(c, fmt.Sprintf("%s\t%s\tstate=%s errors=%d", id, c.Name, c.State, c.ConsecutiveErrors))
	}
	return code
}

func cmdConfig(cfg *config.Configuration, stdout, stderr io.Writer) int {
	tmp, err := os.CreateTemp("", "assetctl-*.yaml")
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	path := tmp.Name()
	_ = tmp.Close()
	defer os.Remove(path)

	if err := cfg.SaveToFile(path); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	_, _ = stdout.Write(data)
	return 0
}
