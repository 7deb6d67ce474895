package commands

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/cyphal-go/udptransport/internal/transport"
)

var serveExtentBytes int

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve <service-id>",
		Short: "Serve a request/response service by echoing requests back",
		Args:  cobra.ExactArgs(1),
		RunE:  runServe,
	}
	cmd.Flags().IntVar(&serveExtentBytes, "extent-bytes", 0, "reassembly buffer ceiling (0 = unbounded)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	serviceID, err := strconv.ParseUint(args[0], 10, 9)
	if err != nil {
		return fmt.Errorf("parse service-id: %w", err)
	}

	reqSpec := transport.Specifier{
		Data: transport.DataSpecifier{Kind: transport.ServiceProvider, ID: uint16(serviceID)},
	}

	return runNode(cmd, runOptions{
		setup: func(c *transport.Coordinator, logger *slog.Logger) error {
			in, st := c.GetInputSession(reqSpec, serveExtentBytes)
			if !st.OK() {
				return fmt.Errorf("get request input session: %s", st.Error())
			}
			in.SetHandler(func(xfer transport.Transfer) {
				if !xfer.HasRemoteNodeID {
					logger.Warn("request missing remote node-id, dropping")
					return
				}

				respSpec := transport.Specifier{
					Data:         transport.DataSpecifier{Kind: transport.ServiceProvider, ID: uint16(serviceID)},
					RemoteNodeID: xfer.RemoteNodeID,
					HasRemote:    true,
				}
				out, st := c.GetOutputSession(respSpec)
				if !st.OK() {
					logger.Warn("get response output session failed", "status", st.Error())
					return
				}

				c.DeliverRequestToResponder(uint16(serviceID), xfer.RemoteNodeID, xfer.TransferID)

				if st := out.Send(xfer.Payload, xfer.Priority, time.Now().Add(time.Second)); !st.OK() {
					logger.Warn("send response failed", "status", st.Error())
					return
				}
				logger.Info("served request",
					"service_id", serviceID,
					"requester_node_id", xfer.RemoteNodeID,
					"transfer_id", xfer.TransferID)
			})
			return nil
		},
		tick: func(c *transport.Coordinator, now time.Time, logger *slog.Logger) bool { return false },
	})
}
