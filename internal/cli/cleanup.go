package cli

import (
	"fmt"
	"os"
	"syscall"

	"github.com/bdgtool/bdg/internal/session"
	"github.com/spf13/cobra"
)

var (
	cleanupForce      bool
	cleanupAll        bool
	cleanupAggressive bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove stale session files and processes",
	RunE:  runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVar(&cleanupForce, "force", false, "Kill a live daemon/worker instead of refusing")
	cleanupCmd.Flags().BoolVar(&cleanupAll, "all", false, "Also remove the final session.json output")
	cleanupCmd.Flags().BoolVar(&cleanupAggressive, "aggressive", false, "Also kill the session's Chrome process")
	rootCmd.AddCommand(cleanupCmd)
}

// runCleanup implements `bdg cleanup` (spec §6.1), a CLI-local operation
// the daemon never sees: it reaches directly into the ~/.bdg/ session
// directory rather than going through the IPC protocol.
func runCleanup(cmd *cobra.Command, args []string) error {
	meta, hasMeta, err := session.ReadMetadata(session.MetaPath())
	if err != nil {
		debugParam("cleanup: read session.meta.json failed: %v", err)
	}

	if daemonRunning() && !cleanupForce {
		return outputError("daemon is running — pass --force to clean up anyway, or run `bdg stop` first")
	}

	killed := []string{}
	if cleanupForce && hasMeta {
		if killPID(meta.DaemonPID) {
			killed = append(killed, fmt.Sprintf("daemon(%d)", meta.DaemonPID))
		}
		if killPID(meta.WorkerPID) {
			killed = append(killed, fmt.Sprintf("worker(%d)", meta.WorkerPID))
		}
	}
	if cleanupAggressive && hasMeta {
		if killPID(meta.ChromePID) {
			killed = append(killed, fmt.Sprintf("chrome(%d)", meta.ChromePID))
		}
	}

	removed := []string{}
	remove := func(path string) {
		if err := os.Remove(path); err == nil {
			removed = append(removed, path)
		}
	}
	remove(session.LockPath())
	remove(session.WorkerPIDPath())
	remove(session.DaemonPIDPath())
	remove(session.SocketPath())
	remove(session.MetaPath())
	remove(session.PreviewPath())
	if cleanupAll {
		remove(session.OutputPath())
	}

	debugParam("cleanup: killed=%v removed=%v", killed, removed)
	return outputSuccess(map[string]any{
		"killed":  killed,
		"removed": removed,
	})
}

// killPID sends SIGKILL to pid if it's still alive, reporting whether a
// kill was actually delivered.
func killPID(pid int) bool {
	if pid <= 0 || !session.IsProcessAlive(pid) {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.SIGKILL) == nil
}
