package cli

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/bdgtool/bdg/internal/ipc"
	"github.com/spf13/cobra"
)

var (
	startPort        int
	startTimeout     int
	startHeadless    bool
	startAll         bool
	startMaxBodySize int64
	startCompact     bool
	startUserDataDir string
)

func init() {
	rootCmd.Flags().IntVar(&startPort, "port", 0, "CDP debugging port (default 9222)")
	rootCmd.Flags().IntVar(&startTimeout, "timeout", 0, "Seconds to wait for the worker to become ready (default 30)")
	rootCmd.Flags().BoolVar(&startHeadless, "headless", false, "Launch Chrome headless (ignored when a Chrome is already listening on the port)")
	rootCmd.Flags().BoolVar(&startAll, "all", false, "Disable the default analytics URL and console noise filters")
	rootCmd.Flags().Int64Var(&startMaxBodySize, "max-body-size", 0, "Maximum network body size to capture, in MB")
	rootCmd.Flags().BoolVar(&startCompact, "compact", false, "Only capture network and console telemetry, skipping the DOM snapshot")
	rootCmd.Flags().StringVar(&startUserDataDir, "user-data-dir", "", "Chrome profile directory (default: temporary profile)")

	rootCmd.Args = cobra.MaximumNArgs(1)
	rootCmd.RunE = runStart
}

// runStart implements the root `bdg <url>` command (spec §6.1): ensure a
// daemon is running, then ask it to start a collection session.
func runStart(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return cmd.Help()
	}
	url := args[0]

	if !daemonRunning() {
		if err := spawnDaemon(); err != nil {
			return outputError(fmt.Sprintf("start daemon: %v", err))
		}
	}

	telemetry := []string{"network", "console"}
	if !startCompact {
		telemetry = append(telemetry, "dom")
	}

	params := ipc.StartSessionParams{
		URL:         url,
		Port:        startPort,
		Timeout:     startTimeout,
		Telemetry:   telemetry,
		IncludeAll:  startAll,
		UserDataDir: startUserDataDir,
		MaxBodySize: startMaxBodySize * 1024 * 1024,
		Headless:    startHeadless,
	}
	debugParam("url=%s port=%d headless=%v telemetry=%v", url, startPort, startHeadless, telemetry)

	resp, err := sendRequest(newRequest(ipc.CmdStartSession, params))
	if err != nil {
		return outputError(fmt.Sprintf("start session: %v", err))
	}
	if resp.Status != "ok" {
		if resp.Error == ipc.ErrSessionAlreadyRunning {
			var conflict ipc.SessionConflictData
			_ = resp.DecodeData(&conflict)
			return outputError(fmt.Sprintf("a session is already running (pid %d, target %s) — run `bdg stop` first", conflict.PID, conflict.TargetURL))
		}
		return outputError(resp.Error)
	}

	var data ipc.StartSessionData
	_ = resp.DecodeData(&data)
	return outputSuccess(data)
}

// spawnDaemon starts `bdg __daemon` as a detached background process and
// waits for its socket to come up. Grounded on the teacher's
// browser.spawnProcess (internal/browser/launch.go): exec.Command with
// stdio detached from the CLI's own terminal, generalized from "launch
// Chrome" to "launch the daemon".
func spawnDaemon() error {
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve bdg executable: %w", err)
	}

	cmd := exec.Command(execPath, "__daemon")
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn daemon process: %w", err)
	}
	if err := cmd.Process.Release(); err != nil {
		return fmt.Errorf("release daemon process: %w", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if daemonRunning() {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("daemon did not start listening within 5s")
}
