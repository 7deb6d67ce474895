package commands

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/cyphal-go/udptransport/internal/cyphal"
	"github.com/cyphal-go/udptransport/internal/transport"
)

var callTimeout time.Duration

func callCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <service-id> <remote-node-id> <message>",
		Short: "Call a service and print its response",
		Args:  cobra.ExactArgs(3),
		RunE:  runCall,
	}
	cmd.Flags().DurationVar(&callTimeout, "timeout", 5*time.Second, "time to wait for a response")
	return cmd
}

func runCall(cmd *cobra.Command, args []string) error {
	serviceID, err := strconv.ParseUint(args[0], 10, 9)
	if err != nil {
		return fmt.Errorf("parse service-id: %w", err)
	}
	remoteNodeID, err := strconv.ParseUint(args[1], 10, 16)
	if err != nil {
		return fmt.Errorf("parse remote-node-id: %w", err)
	}
	message := args[2]

	reqSpec := transport.Specifier{
		Data:         transport.DataSpecifier{Kind: transport.ServiceConsumer, ID: uint16(serviceID)},
		RemoteNodeID: uint16(remoteNodeID),
		HasRemote:    true,
	}
	respSpec := transport.Specifier{
		Data:         transport.DataSpecifier{Kind: transport.ServiceConsumer, ID: uint16(serviceID)},
		RemoteNodeID: uint16(remoteNodeID),
		HasRemote:    true,
	}

	var out *transport.OutputSession
	var in *transport.InputSession
	var sent bool
	var deadline time.Time

	err = runNode(cmd, runOptions{
		setup: func(c *transport.Coordinator, logger *slog.Logger) error {
			o, st := c.GetOutputSession(reqSpec)
			if !st.OK() {
				return fmt.Errorf("get request output session: %s", st.Error())
			}
			out = o

			i, st := c.GetInputSession(respSpec, 0)
			if !st.OK() {
				return fmt.Errorf("get response input session: %s", st.Error())
			}
			in = i
			return nil
		},
		tick: func(c *transport.Coordinator, now time.Time, logger *slog.Logger) bool {
			if !sent {
				sent = true
				deadline = now.Add(callTimeout)
				if st := out.Send([]byte(message), cyphal.Nominal, deadline); !st.OK() {
					logger.Error("call failed", "status", st.Error())
					return true
				}
				return false
			}

			if xfer, ok := in.Receive(); ok {
				logger.Info("response received",
					"service_id", serviceID,
					"remote_node_id", xfer.RemoteNodeID,
					"transfer_id", xfer.TransferID,
					"payload", string(xfer.Payload))
				return true
			}

			if now.After(deadline) {
				logger.Error("call timed out", "service_id", serviceID, "remote_node_id", remoteNodeID)
				return true
			}
			return false
		},
	})
	return err
}
