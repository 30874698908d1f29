package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Dannydropz/phuketradar-sub003/internal/cache"
	"github.com/Dannydropz/phuketradar-sub003/internal/cli"
)

// run executes the full fetch + cluster + publish cycle, once or on an
// interval.
func runPipeline(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	once := fs.Bool("once", false, "Run a single cycle and exit")
	interval := fs.Duration("interval", 0, "Override PR_RUN_INTERVAL between cycles")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	rt, err := bootstrap(envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Run failed: %v\n", err)
		return 1
	}
	defer rt.Close()

	runInterval := rt.cfg.RunInterval
	if *interval > 0 {
		runInterval = *interval
	}

	ctx, cancel := signalContext()
	defer cancel()

	articleCache := cache.New(cache.Options{
		DefaultTTL:    rt.cfg.CacheTTL,
		SweepInterval: rt.cfg.CacheSweepInterval,
	})
	articleCache.Start(ctx)

	pipeline := NewPipeline(rt.cfg, rt.pool, buildChannels(rt.cfg), articleCache, rt.logger)

	if err := pipeline.RunOnce(ctx); err != nil {
		rt.logger.Error().Err(err).Msg("pipeline cycle failed")
		if *once {
			return 1
		}
	}
	if *once {
		return 0
	}

	rt.logger.Info().Dur("interval", runInterval).Msg("pipeline running on interval")

	ticker := time.NewTicker(runInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			rt.logger.Info().Msg("pipeline stopped")
			return 0
		case <-ticker.C:
			if err := pipeline.RunOnce(ctx); err != nil {
				rt.logger.Error().Err(err).Msg("pipeline cycle failed")
			}
		}
	}
}
