package cli

import (
	"fmt"
	"time"

	"github.com/bdgtool/bdg/internal/ipc"
	"github.com/bdgtool/bdg/internal/session"
	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Gracefully stop the active session",
	RunE:  runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	if !daemonRunning() {
		return outputNotice("no daemon running")
	}

	resp, err := sendRequest(newRequest(ipc.CmdStopSession, nil))
	if err != nil {
		return outputError(fmt.Sprintf("stop session: %v", err))
	}
	if resp.Status != "ok" {
		return outputError(resp.Error)
	}

	var data ipc.StopSessionData
	_ = resp.DecodeData(&data)

	if data.ChromePID > 0 {
		waitForExit(data.ChromePID, 5*time.Second)
		if session.IsProcessAlive(data.ChromePID) {
			debugParam("chrome pid %d still alive after graceful wait, leaving it running (not launched by us or attach mode)", data.ChromePID)
		}
	}

	return outputSuccess(data)
}

// waitForExit polls pid's liveness for up to timeout so the CLI's own
// exit doesn't race ahead of a Chrome process the worker just asked to
// close along with its session.
func waitForExit(pid int, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !session.IsProcessAlive(pid) {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
}
