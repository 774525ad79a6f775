package cli

import (
	"fmt"
	"time"

	"github.com/bdgtool/bdg/internal/ipc"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and session state",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if !daemonRunning() {
		data := ipc.StatusData{Running: false}
		if JSONOutput {
			return outputSuccess(data)
		}
		fmt.Println("daemon: not running")
		return nil
	}

	resp, err := sendRequest(newRequest(ipc.CmdStatus, nil))
	if err != nil {
		return outputError(fmt.Sprintf("status: %v", err))
	}
	if resp.Status != "ok" {
		return outputError(resp.Error)
	}

	var data ipc.StatusData
	_ = resp.DecodeData(&data)

	if JSONOutput {
		return outputSuccess(data)
	}
	if !data.Running {
		fmt.Println("daemon: running, no active session")
		return nil
	}

	started := time.UnixMilli(data.StartTime)
	fmt.Printf("daemon: running (pid %d)\n", data.DaemonPID)
	fmt.Printf("session: %s\n", data.TargetURL)
	fmt.Printf("  worker pid:  %d\n", data.WorkerPID)
	fmt.Printf("  chrome pid:  %d\n", data.ChromePID)
	fmt.Printf("  started:     %s (%s ago)\n", started.Format(time.RFC3339), time.Since(started).Round(time.Second))
	fmt.Printf("  telemetry:   %v\n", data.ActiveTelemetry)
	fmt.Printf("  network:     %d requests\n", data.NetworkCount)
	fmt.Printf("  console:     %d messages\n", data.ConsoleCount)
	return nil
}
