package commands

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/cyphal-go/udptransport/internal/config"
	"github.com/cyphal-go/udptransport/internal/transport"
)

// openConfiguredPorts opens one session per entry in ports, alongside
// whatever session the invoked subcommand's own flags/args describe,
// mirroring gobfd's pattern of building every session on its
// declarative session list at startup. It is called once from runNode,
// right after opts.setup, so a config file can provision additional
// subscribers, service providers and service consumers without a dedicated CLI
// invocation per port.
func openConfiguredPorts(c *transport.Coordinator, ports []config.PortConfig, logger *slog.Logger) error {
	for _, pc := range ports {
		var err error
		switch pc.Kind {
		case "message":
			err = openMessagePort(c, pc, logger)
		case "service_provider":
			err = openServiceProviderPort(c, pc, logger)
		case "service_consumer":
			err = openServiceConsumerPort(c, pc, logger)
		default:
			err = fmt.Errorf("port %s: unknown kind %q", pc.PortKey(), pc.Kind)
		}
		if err != nil {
			return fmt.Errorf("open configured port %s: %w", pc.PortKey(), err)
		}
	}
	return nil
}

// openMessagePort subscribes to pc's subject and logs every delivered
// transfer, the same handler subscribeCmd installs for a CLI-driven
// subscription.
func openMessagePort(c *transport.Coordinator, pc config.PortConfig, logger *slog.Logger) error {
	spec := transport.Specifier{
		Data: transport.DataSpecifier{Kind: transport.Message, ID: pc.PortID},
	}
	in, st := c.GetInputSession(spec, pc.ExtentBytes)
	if !st.OK() {
		return fmt.Errorf("get input session: %s", st.Error())
	}
	in.SetHandler(func(xfer transport.Transfer) {
		logger.Info("received (configured port)",
			"subject_id", pc.PortID,
			"remote_node_id", xfer.RemoteNodeID,
			"transfer_id", xfer.TransferID,
			"payload_bytes", len(xfer.Payload))
	})
	return nil
}

// openServiceProviderPort serves pc's service by echoing each request's
// payload back to its requester, building a fresh response
// OutputSession per requester node-ID exactly as serveCmd does.
func openServiceProviderPort(c *transport.Coordinator, pc config.PortConfig, logger *slog.Logger) error {
	reqSpec := transport.Specifier{
		Data: transport.DataSpecifier{Kind: transport.ServiceProvider, ID: pc.PortID},
	}
	in, st := c.GetInputSession(reqSpec, pc.ExtentBytes)
	if !st.OK() {
		return fmt.Errorf("get request input session: %s", st.Error())
	}
	in.SetHandler(func(xfer transport.Transfer) {
		if !xfer.HasRemoteNodeID {
			logger.Warn("configured service request missing remote node-id, dropping", "service_id", pc.PortID)
			return
		}

		respSpec := transport.Specifier{
			Data:         transport.DataSpecifier{Kind: transport.ServiceProvider, ID: pc.PortID},
			RemoteNodeID: xfer.RemoteNodeID,
			HasRemote:    true,
		}
		out, st := c.GetOutputSession(respSpec)
		if !st.OK() {
			logger.Warn("get response output session failed", "service_id", pc.PortID, "status", st.Error())
			return
		}

		c.DeliverRequestToResponder(pc.PortID, xfer.RemoteNodeID, xfer.TransferID)

		if st := out.Send(xfer.Payload, xfer.Priority, time.Now().Add(time.Second)); !st.OK() {
			logger.Warn("send configured response failed", "service_id", pc.PortID, "status", st.Error())
			return
		}
		logger.Info("served request (configured port)",
			"service_id", pc.PortID,
			"requester_node_id", xfer.RemoteNodeID,
			"transfer_id", xfer.TransferID)
	})
	return nil
}

// openServiceConsumerPort pre-opens the request/response session pair
// for pc's remote service and logs every response that arrives. A
// declarative service_consumer port carries no payload or schedule of
// its own, so it provisions the pair ready for use rather than
// originating requests; the one-shot callCmd remains the way to send
// one.
func openServiceConsumerPort(c *transport.Coordinator, pc config.PortConfig, logger *slog.Logger) error {
	reqSpec := transport.Specifier{
		Data:         transport.DataSpecifier{Kind: transport.ServiceConsumer, ID: pc.PortID},
		RemoteNodeID: pc.RemoteNodeID,
		HasRemote:    true,
	}
	if _, st := c.GetOutputSession(reqSpec); !st.OK() {
		return fmt.Errorf("get request output session: %s", st.Error())
	}

	respSpec := transport.Specifier{
		Data:         transport.DataSpecifier{Kind: transport.ServiceConsumer, ID: pc.PortID},
		RemoteNodeID: pc.RemoteNodeID,
		HasRemote:    true,
	}
	in, st := c.GetInputSession(respSpec, pc.ExtentBytes)
	if !st.OK() {
		return fmt.Errorf("get response input session: %s", st.Error())
	}
	in.SetHandler(func(xfer transport.Transfer) {
		logger.Info("response received (configured port)",
			"service_id", pc.PortID,
			"remote_node_id", xfer.RemoteNodeID,
			"transfer_id", xfer.TransferID,
			"payload_bytes", len(xfer.Payload))
	})
	return nil
}
