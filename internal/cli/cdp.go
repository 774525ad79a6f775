package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/bdgtool/bdg/internal/ipc"
	"github.com/spf13/cobra"
)

var (
	cdpParamsJSON string
	cdpList       bool
	cdpDescribe   string
	cdpSearch     string
)

var cdpCmd = &cobra.Command{
	Use:   "cdp <Method>",
	Short: "Call a raw CDP method against the active session's page target",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCDP,
}

func init() {
	cdpCmd.Flags().StringVar(&cdpParamsJSON, "params", "", "JSON object of method parameters")
	cdpCmd.Flags().BoolVar(&cdpList, "list", false, "List known CDP methods used by bdg")
	cdpCmd.Flags().StringVar(&cdpDescribe, "describe", "", "Show what bdg knows about a CDP method")
	cdpCmd.Flags().StringVar(&cdpSearch, "search", "", "Search known CDP methods by substring")
	rootCmd.AddCommand(cdpCmd)
}

// knownMethods is a hand-maintained index of the CDP methods bdg itself
// issues (see internal/cdpconn, internal/worker, internal/telemetry) —
// not a generated mirror of the full protocol, which bdg never needs in
// full since it only ever drives one page target.
var knownMethods = map[string]string{
	"Page.enable":           "Enables Page domain notifications (frameNavigated, etc).",
	"Page.navigate":         "Navigates the target to a URL.",
	"Network.enable":        "Enables Network domain notifications (requestWillBeSent, responseReceived, loadingFinished/Failed).",
	"Network.getResponseBody": "Fetches the captured response body for a requestId.",
	"Runtime.enable":        "Enables Runtime domain notifications (consoleAPICalled, exceptionThrown).",
	"Log.enable":            "Enables Log domain notifications (browser-level entries).",
	"DOM.getDocument":       "Fetches the root DOM node.",
	"DOM.getOuterHTML":      "Fetches the outerHTML of a node, used for the DOM snapshot.",
}

func runCDP(cmd *cobra.Command, args []string) error {
	switch {
	case cdpList:
		return listMethods("")
	case cdpSearch != "":
		return listMethods(cdpSearch)
	case cdpDescribe != "":
		desc, ok := knownMethods[cdpDescribe]
		if !ok {
			return outputError(fmt.Sprintf("unknown method %q (see --list)", cdpDescribe))
		}
		if JSONOutput {
			return outputSuccess(map[string]string{"method": cdpDescribe, "description": desc})
		}
		fmt.Printf("%s\n  %s\n", cdpDescribe, desc)
		return nil
	}

	if len(args) == 0 {
		return cmd.Help()
	}
	method := args[0]

	var params any
	if cdpParamsJSON != "" {
		if err := json.Unmarshal([]byte(cdpParamsJSON), &params); err != nil {
			return outputError(fmt.Sprintf("invalid --params JSON: %v", err))
		}
	}

	resp, err := sendRequest(newRequest(ipc.CmdCDPCall, ipc.CDPCallParams{Method: method, Params: params}))
	if err != nil {
		return outputError(fmt.Sprintf("cdp_call: %v", err))
	}
	if resp.Status != "ok" {
		return outputError(resp.Error)
	}

	var data ipc.CDPCallData
	_ = resp.DecodeData(&data)
	if JSONOutput {
		return outputSuccess(data)
	}
	fmt.Println(string(data.Result))
	return nil
}

func listMethods(filter string) error {
	names := make([]string, 0, len(knownMethods))
	for name := range knownMethods {
		if filter == "" || strings.Contains(strings.ToLower(name), strings.ToLower(filter)) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	if JSONOutput {
		return outputSuccess(names)
	}
	for _, name := range names {
		fmt.Printf("%s\n  %s\n", name, knownMethods[name])
	}
	return nil
}
