// Command bdg is a single binary playing three roles, dispatched on
// argv[1] (spec §0 "Three binaries share one main"): the ordinary CLI,
// the persistent daemon (`bdg __daemon`), and the worker (`bdg
// __worker`). The daemon and worker subcommands are internal — spawned
// by the CLI and by the daemon respectively — and are not part of the
// documented `bdg` command tree.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"

	"github.com/bdgtool/bdg/internal/cli"
	"github.com/bdgtool/bdg/internal/daemon"
	"github.com/bdgtool/bdg/internal/worker"
)

// formatCobraError converts verbose Cobra errors to user-friendly messages.
func formatCobraError(err error) string {
	msg := err.Error()

	if strings.Contains(msg, "none of the others can be") {
		re := regexp.MustCompile(`\[([^\]]+)\] were all set`)
		if matches := re.FindStringSubmatch(msg); len(matches) > 1 {
			flags := strings.Split(matches[1], " ")
			for i := range flags {
				flags[i] = "--" + flags[i]
			}
			return fmt.Sprintf("%s cannot be used together", strings.Join(flags, " and "))
		}
	}

	return msg
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "__daemon":
			os.Exit(runDaemon())
		case "__worker":
			os.Exit(runWorker())
		}
	}

	if err := cli.Execute(); err != nil {
		if !cli.IsPrintedError(err) {
			msg := formatCobraError(err)
			if cli.JSONOutput {
				resp := map[string]any{
					"ok":    false,
					"error": msg,
				}
				_ = json.NewEncoder(os.Stderr).Encode(resp)
			} else {
				fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
			}
		}
		os.Exit(1)
	}
}

// runDaemon runs the persistent daemon until signalled to stop.
func runDaemon() int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	d := daemon.New(nil)
	if err := d.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "bdg daemon: %v\n", err)
		return 1
	}
	return 0
}

// runWorker runs the worker for exactly one collection session.
func runWorker() int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()
	return worker.Run(ctx)
}
