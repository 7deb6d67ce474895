package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	appversion "github.com/cyphal-go/udptransport/internal/version"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print cyudp-node version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(appversion.Full("cyudp-node"))
			return nil
		},
	}
}
