package commands

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/cyphal-go/udptransport/internal/transport"
)

var subscribeExtentBytes int

func subscribeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscribe <subject-id>",
		Short: "Subscribe to a message subject and print received transfers",
		Args:  cobra.ExactArgs(1),
		RunE:  runSubscribe,
	}
	cmd.Flags().IntVar(&subscribeExtentBytes, "extent-bytes", 0, "reassembly buffer ceiling (0 = unbounded)")
	return cmd
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	subjectID, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil {
		return fmt.Errorf("parse subject-id: %w", err)
	}

	spec := transport.Specifier{
		Data: transport.DataSpecifier{Kind: transport.Message, ID: uint16(subjectID)},
	}

	return runNode(cmd, runOptions{
		setup: func(c *transport.Coordinator, logger *slog.Logger) error {
			in, st := c.GetInputSession(spec, subscribeExtentBytes)
			if !st.OK() {
				return fmt.Errorf("get input session: %s", st.Error())
			}
			in.SetHandler(func(xfer transport.Transfer) {
				logger.Info("received",
					"subject_id", subjectID,
					"remote_node_id", xfer.RemoteNodeID,
					"transfer_id", xfer.TransferID,
					"payload_bytes", len(xfer.Payload),
					"payload", string(xfer.Payload))
			})
			return nil
		},
		tick: func(c *transport.Coordinator, now time.Time, logger *slog.Logger) bool { return false },
	})
}
