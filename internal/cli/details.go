package cli

import (
	"encoding/json"
	"fmt"

	"github.com/bdgtool/bdg/internal/ipc"
	"github.com/spf13/cobra"
)

var detailsCmd = &cobra.Command{
	Use:   "details network|console <id>",
	Short: "Show the full record for one captured item",
	Args:  cobra.ExactArgs(2),
	RunE:  runDetails,
}

func init() {
	rootCmd.AddCommand(detailsCmd)
}

func runDetails(cmd *cobra.Command, args []string) error {
	itemType, id := args[0], args[1]
	if itemType != "network" && itemType != "console" {
		return outputError(fmt.Sprintf("unknown item type %q (want network or console)", itemType))
	}

	resp, err := sendRequest(newRequest(ipc.CmdDetails, ipc.DetailsParams{ItemType: itemType, ID: id}))
	if err != nil {
		return outputError(fmt.Sprintf("details: %v", err))
	}
	if resp.Status != "ok" {
		return outputError(resp.Error)
	}

	var data ipc.DetailsData
	_ = resp.DecodeData(&data)

	if JSONOutput {
		return outputSuccess(data)
	}

	var pretty []byte
	if data.Network != nil {
		pretty, _ = json.MarshalIndent(data.Network, "", "  ")
	} else {
		pretty, _ = json.MarshalIndent(data.Console, "", "  ")
	}
	fmt.Println(string(pretty))
	return nil
}
