package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/Dannydropz/phuketradar-sub003/internal/cli"
	"github.com/Dannydropz/phuketradar-sub003/internal/config"
)

// fetch pulls feeds and clusters candidates without publishing. Useful for
// backfills and for verifying feed credentials before going live.
func runFetch(args []string) int {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	sourceName := fs.String("source", "", "Only pull this source (default: all configured sources)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	rt, err := bootstrap(envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Fetch failed: %v\n", err)
		return 1
	}
	defer rt.Close()

	sources := rt.cfg.SourceList()
	if name := strings.TrimSpace(*sourceName); name != "" {
		var match []config.SourceSpec
		for _, spec := range sources {
			if spec.Name == name {
				match = append(match, spec)
			}
		}
		if len(match) == 0 {
			fmt.Fprintf(os.Stderr, "Source %q is not configured\n", name)
			return 2
		}
		sources = match
	}
	if len(sources) == 0 {
		fmt.Fprintln(os.Stderr, "No sources configured; set PR_SOURCES")
		return 2
	}

	ctx, cancel := signalContext()
	defer cancel()

	pipeline := NewPipeline(rt.cfg, rt.pool, nil, nil, rt.logger)

	exitCode := 0
	for _, spec := range sources {
		if err := pipeline.ProcessSource(ctx, ctx, spec); err != nil {
			rt.logger.Error().Err(err).Str("source", spec.Name).Msg("fetch failed")
			exitCode = 1
		}
	}
	return exitCode
}
