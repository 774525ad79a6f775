package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bdgtool/bdg/internal/ipc"
	"github.com/bdgtool/bdg/internal/telemetry"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	peekLastN   int
	peekNetwork bool
	peekConsole bool
	peekVerbose bool
	peekFollow  bool
)

var peekCmd = &cobra.Command{
	Use:   "peek",
	Short: "Show the last N captured telemetry entries",
	RunE:  runPeek,
}

func init() {
	peekCmd.Flags().IntVar(&peekLastN, "last", 0, "Number of entries to show (default 1000)")
	peekCmd.Flags().BoolVar(&peekNetwork, "network", false, "Show only network requests")
	peekCmd.Flags().BoolVar(&peekConsole, "console", false, "Show only console messages")
	peekCmd.Flags().BoolVar(&peekVerbose, "verbose", false, "Show full request/response detail instead of a one-line summary")
	peekCmd.Flags().BoolVar(&peekFollow, "follow", false, "Keep polling and print new entries as they arrive")
	rootCmd.AddCommand(peekCmd)
}

func runPeek(cmd *cobra.Command, args []string) error {
	params := ipc.PeekParams{LastN: peekLastN, Network: peekNetwork, Console: peekConsole}

	if !peekFollow {
		return peekOnce(params, 0, 0)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	seenNetwork, seenConsole := 0, 0
	for {
		var err error
		seenNetwork, seenConsole, err = peekOnceFollow(params, seenNetwork, seenConsole)
		if err != nil {
			return err
		}
		select {
		case <-sig:
			return nil
		case <-time.After(time.Second):
		}
	}
}

func peekOnce(params ipc.PeekParams, skipNetwork, skipConsole int) error {
	_, _, err := peekOnceFollow(params, skipNetwork, skipConsole)
	return err
}

// peekOnceFollow issues one peek request and prints entries beyond
// skipNetwork/skipConsole (always 0 on a non-follow call), returning the
// new counts so --follow only prints what's arrived since last poll.
func peekOnceFollow(params ipc.PeekParams, skipNetwork, skipConsole int) (int, int, error) {
	resp, err := sendRequest(newRequest(ipc.CmdPeek, params))
	if err != nil {
		return skipNetwork, skipConsole, outputError(fmt.Sprintf("peek: %v", err))
	}
	if resp.Status != "ok" {
		return skipNetwork, skipConsole, outputError(resp.Error)
	}

	var data ipc.PeekData
	_ = resp.DecodeData(&data)

	if JSONOutput {
		return len(data.Network), len(data.Console), outputSuccess(data)
	}

	if skipNetwork < len(data.Network) {
		for _, item := range data.Network[skipNetwork:] {
			printNetworkLine(item)
		}
	}
	if skipConsole < len(data.Console) {
		for _, item := range data.Console[skipConsole:] {
			printConsoleLine(item)
		}
	}
	return len(data.Network), len(data.Console), nil
}

func printNetworkLine(item telemetry.NetworkRequest) {
	status := "-"
	if item.Status != nil {
		status = fmt.Sprintf("%d", *item.Status)
	}
	if !shouldUseColor() {
		fmt.Printf("[net] %-4s %s %s %s\n", status, item.Method, item.URL, item.RequestID)
	} else {
		c := color.New(color.FgCyan)
		c.Printf("[net] ")
		fmt.Printf("%-4s %s %s %s\n", status, item.Method, item.URL, item.RequestID)
	}
	if peekVerbose {
		fmt.Printf("      mimeType=%s\n", item.MimeType)
		if item.RequestBody != "" {
			fmt.Printf("      requestBody=%s\n", truncate(item.RequestBody, 500))
		}
		if item.ResponseBody != "" {
			fmt.Printf("      responseBody=%s\n", truncate(item.ResponseBody, 500))
		}
	}
}

func printConsoleLine(item telemetry.ConsoleMessage) {
	if !shouldUseColor() {
		fmt.Printf("[console:%s] %s\n", item.Type, truncate(item.Text, 300))
		return
	}
	c := color.New(color.FgYellow)
	if item.Type == "error" {
		c = color.New(color.FgRed)
	}
	c.Printf("[console:%s] ", item.Type)
	fmt.Println(truncate(item.Text, 300))
}

func truncate(s string, n int) string {
	if peekVerbose || len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
