package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "fetch":
		return runFetch(args[1:])
	case "publish":
		return runPublish(args[1:])
	case "run", "run-once":
		return runPipeline(args[1:])
	case "serve":
		return runServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "phuketradar CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  phuketradar <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health   Verify database connectivity")
	fmt.Fprintln(os.Stderr, "  fetch    Pull configured feeds once and cluster new candidates")
	fmt.Fprintln(os.Stderr, "  publish  Push one stored article to a channel")
	fmt.Fprintln(os.Stderr, "  run      Run the full fetch + cluster + publish cycle")
	fmt.Fprintln(os.Stderr, "  run-once Alias for run with no interval")
	fmt.Fprintln(os.Stderr, "  serve    Start the read-only API server")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"phuketradar <command> -h\" for command-specific flags.")
}
