package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"git.home.luguber.info/inful/assetbuild/internal/builder"
	"git.home.luguber.info/inful/assetbuild/internal/metrics"
)

// BuildCmd implements the 'build' command.
type BuildCmd struct {
	Plan    string `short:"p" help:"Build plan (defaults to the configured plan)"`
	NoCache bool   `help:"Ignore cached command results"`
	JSON    bool   `help:"Print the build report as JSON"`
}

// Run builds the plan once and publishes the outputs.
func (b *BuildCmd) Run(root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	if b.NoCache {
		disabled := false
		cfg.Build.ResultCache = &disabled
	}

	ctx, cancel := signalContext()
	defer cancel()

	rt, err := openRuntime(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(); cerr != nil {
			slog.Warn("Failed to close build resources", "error", cerr)
		}
	}()

	p, err := rt.loadPlan(b.Plan)
	if err != nil {
		return err
	}
	bld, err := rt.builder(metrics.NoopRecorder{})
	if err != nil {
		return err
	}
	tree, err := p.Build(rt.registry)
	if err != nil {
		return err
	}

	report, runErr := bld.Run(ctx, tree, "cli")
	if b.JSON {
		if err := writeReportJSON(os.Stdout, report); err != nil {
			return err
		}
	} else {
		writeReportText(os.Stdout, report)
	}
	return runErr
}

func writeReportJSON(w io.Writer, report *builder.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func writeReportText(w io.Writer, report *builder.Report) {
	_, _ = fmt.Fprintf(w, "build %s: %s in %s\n", report.BuildID, report.Status, report.Duration().Round(time.Millisecond))
	_, _ = fmt.Fprintf(w, "  steps: %d  executed: %d  cached: %d  deduplicated: %d  published: %d\n",
		len(report.Steps), report.Executed(), report.CacheHits(), report.Deduplicated, report.Published)

	locs := make([]string, 0, len(report.Outputs))
	byLoc := make(map[string]string, len(report.Outputs))
	for loc, hash := range report.Outputs {
		locs = append(locs, loc.String())
		byLoc[loc.String()] = hash.Short()
	}
	sort.Strings(locs)
	for _, loc := range locs {
		_, _ = fmt.Fprintf(w, "  %s %s\n", byLoc[loc], loc)
	}
	for _, msg := range report.Errors {
		_, _ = fmt.Fprintf(w, "  error: %s\n", msg)
	}
}
