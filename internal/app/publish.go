package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/Dannydropz/phuketradar-sub003/internal/cli"
	"github.com/Dannydropz/phuketradar-sub003/internal/publish"
)

// publish pushes one stored article to a channel by hand. The same
// orchestrator the run cycle uses handles retries and status polling.
func runPublish(args []string) int {
	fs := flag.NewFlagSet("publish", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	articleID := fs.Int64("article", 0, "Article id to publish")
	channelName := fs.String("channel", "", "Target channel (default: every configured channel)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *articleID <= 0 {
		fmt.Fprintln(os.Stderr, "--article must be a positive article id")
		return 2
	}

	rt, err := bootstrap(envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Publish failed: %v\n", err)
		return 1
	}
	defer rt.Close()

	channels := buildChannels(rt.cfg)
	if len(channels) == 0 {
		fmt.Fprintln(os.Stderr, "No channels configured; set telegram or relay credentials")
		return 2
	}

	orchestrator := publish.NewOrchestrator(rt.pool, channels, nil, rt.logger, publish.Options{
		MaxAttempts:  rt.cfg.PublishMaxAttempts,
		RetryDelay:   rt.cfg.PublishRetryDelay,
		PollInterval: rt.cfg.PublishPollInterval,
		MaxPolls:     rt.cfg.PublishMaxPolls,
		SiteBaseURL:  rt.cfg.SiteBaseURL,
	})

	targets := orchestrator.Channels()
	if name := strings.TrimSpace(*channelName); name != "" {
		targets = []string{name}
	}

	ctx, cancel := signalContext()
	defer cancel()

	exitCode := 0
	for _, name := range targets {
		channelCtx, channelCancel := context.WithTimeout(ctx, rt.cfg.PublishChannelBudget)
		record, err := orchestrator.Publish(channelCtx, *articleID, name)
		channelCancel()
		if err != nil {
			rt.logger.Error().Err(err).Int64("article_id", *articleID).Str("channel", name).Msg("publish failed")
			fmt.Fprintf(os.Stderr, "Publish to %s failed: %v\n", name, err)
			exitCode = 1
			continue
		}
		remoteID := ""
		if record != nil && record.RemotePostID != nil {
			remoteID = *record.RemotePostID
		}
		fmt.Printf("Published article %d to %s (remote id %s)\n", *articleID, name, remoteID)
	}
	return exitCode
}
