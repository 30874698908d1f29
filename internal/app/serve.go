package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Dannydropz/phuketradar-sub003/internal/cache"
	"github.com/Dannydropz/phuketradar-sub003/internal/cli"
	"github.com/Dannydropz/phuketradar-sub003/internal/httpapi"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	host := fs.String("host", "0.0.0.0", "Host interface to bind")
	port := fs.Int("port", 8090, "HTTP port")
	readTimeout := fs.Duration("read-timeout", 10*time.Second, "HTTP read timeout")
	writeTimeout := fs.Duration("write-timeout", 30*time.Second, "HTTP write timeout")
	shutdownTimeout := fs.Duration("shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *port <= 0 || *port > 65535 {
		fmt.Fprintln(os.Stderr, "--port must be between 1 and 65535")
		return 2
	}

	rt, err := bootstrap(envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Serve failed: %v\n", err)
		return 1
	}
	defer rt.Close()

	ctx, cancel := signalContext()
	defer cancel()

	articleCache := cache.New(cache.Options{
		DefaultTTL:    rt.cfg.CacheTTL,
		SweepInterval: rt.cfg.CacheSweepInterval,
	})
	articleCache.Start(ctx)

	srv := httpapi.NewServer(rt.pool, articleCache, rt.logger, httpapi.Options{
		Host:            *host,
		Port:            *port,
		SiteBaseURL:     rt.cfg.SiteBaseURL,
		ReadTimeout:     *readTimeout,
		WriteTimeout:    *writeTimeout,
		ShutdownTimeout: *shutdownTimeout,
	})

	if err := srv.Start(ctx); err != nil {
		rt.logger.Error().Err(err).Str("host", *host).Int("port", *port).Msg("server failed")
		fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
		return 1
	}

	return 0
}
