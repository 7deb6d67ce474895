package transport

import (
	"log/slog"
	"net/netip"
	"strconv"
	"time"

	"github.com/cyphal-go/udptransport/internal/cyphal"
	"github.com/cyphal-go/udptransport/internal/cystatus"
	"github.com/cyphal-go/udptransport/internal/metrics"
	"github.com/cyphal-go/udptransport/internal/udpsock"
)

// MaxInterfaces is the largest redundancy group Cyphal/UDP supports
// (section 6.2).
const MaxInterfaces = 3

// Config configures a Coordinator (section 6.2).
type Config struct {
	// LocalNodeID is this transport's node-ID. Ignored if Anonymous.
	LocalNodeID uint16
	// Anonymous transports have no node-ID; they may subscribe and
	// publish messages but must not originate service transfers.
	Anonymous bool
	// InterfaceAddresses lists 1..MaxInterfaces local IPv4 addresses,
	// one per redundant interface.
	InterfaceAddresses []netip.Addr
	// MTUBytes bounds the per-frame payload; must be >= the frame
	// codec's minimum MTU.
	MTUBytes int
	// TXQueueCapacityPerIface is the byte capacity of each interface's
	// TX queue.
	TXQueueCapacityPerIface int
	// TXQueueArena allocates buffers for queued TX frames.
	TXQueueArena cyphal.Arena
	// RXPayloadArena is accepted for symmetry with TXQueueArena and for
	// callers that want session-level accounting; reassembly buffers
	// themselves are plain Go slices (see DESIGN.md).
	RXPayloadArena cyphal.Arena
	// TransferIDTimeout bounds how long a partial reassembly waits for
	// its next frame before being discarded (section 4.4, 4.8).
	TransferIDTimeout time.Duration
}

// Validate checks the invariants sections 3.1, 4.9, and 8.3
// require before a Coordinator may initialize.
func (c Config) Validate() cystatus.Status {
	if !c.Anonymous && c.LocalNodeID == cyphal.AnonymousNodeID {
		return cystatus.New(cystatus.InvalidArgumentError, cystatus.LayerApplication)
	}
	if len(c.InterfaceAddresses) < 1 || len(c.InterfaceAddresses) > MaxInterfaces {
		return cystatus.New(cystatus.InvalidArgumentError, cystatus.LayerApplication)
	}
	if err := cyphal.ValidateMTU(c.MTUBytes); err != nil {
		return cystatus.New(cystatus.InvalidArgumentError, cystatus.LayerApplication)
	}
	if c.TXQueueArena == nil || c.RXPayloadArena == nil {
		return cystatus.New(cystatus.InvalidArgumentError, cystatus.LayerApplication)
	}
	return cystatus.OK()
}

// lifecycleState is the Coordinator's state machine (section
// 4.9): Uninitialized -> Initialized -> Closed.
type lifecycleState int

const (
	Uninitialized lifecycleState = iota
	Initialized
	Closed
)

// Coordinator owns a transport's node-ID, interface set, TX queues,
// poller, and session registries, and drives them from run_for (
// section 4.9). Grounded on gobfd's Manager for session ownership and
// on cmd/gobfd/main.go's bounded per-tick dispatch for run_for's
// shape; unlike Manager, the Coordinator holds no mutex, per the
// single-threaded cooperative contract (section 5).
type Coordinator struct {
	cfg   Config
	state lifecycleState

	ifaceQueues []*cyphal.Queue
	poller      udpsock.Poller

	outputs *Registry[*OutputSession]
	inputs  *Registry[*InputSession]

	logger  *slog.Logger
	metrics *metrics.Collector

	lastStats   map[Specifier]InputSessionStats
	lastDropped []uint64
}

// NewCoordinator returns a Coordinator in the Uninitialized state. Call
// Initialize before requesting sessions.
func NewCoordinator(cfg Config, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cfg:       cfg,
		state:     Uninitialized,
		outputs:   NewRegistry[*OutputSession](),
		inputs:    NewRegistry[*InputSession](),
		logger:    logger.With("component", "transport.coordinator"),
		lastStats: make(map[Specifier]InputSessionStats),
	}
}

// SetMetrics attaches a Prometheus collector the Coordinator reports
// session and queue statistics through. Optional; a nil collector (the
// default) disables metrics reporting entirely.
func (c *Coordinator) SetMetrics(m *metrics.Collector) {
	c.metrics = m
}

// Initialize validates the configuration and builds one TX queue per
// interface plus the readiness poller (section 4.9). A redundant
// call while already Initialized is a no-op.
func (c *Coordinator) Initialize() cystatus.Status {
	if c.state == Initialized {
		return cystatus.OK()
	}
	if c.state == Closed {
		return cystatus.New(cystatus.ResourceClosedError, cystatus.LayerTransport)
	}

	if st := c.cfg.Validate(); !st.OK() {
		return st
	}

	c.ifaceQueues = make([]*cyphal.Queue, len(c.cfg.InterfaceAddresses))
	for i := range c.ifaceQueues {
		c.ifaceQueues[i] = cyphal.NewQueue(c.cfg.TXQueueCapacityPerIface)
	}
	c.lastDropped = make([]uint64, len(c.cfg.InterfaceAddresses))
	c.poller = udpsock.NewPoller()
	c.state = Initialized

	c.logger.Info("transport initialized",
		"node_id", c.diagnosticID(), "anonymous", c.cfg.Anonymous,
		"interfaces", len(c.cfg.InterfaceAddresses))

	return cystatus.OK()
}

// diagnosticID returns a label for log lines and metrics only, never
// placed on the wire. An anonymous transport has no node-ID (
// section 8.1 keeps the wire sentinel as-is), so diagnostic output
// falls back to its first interface address to tell anonymous
// instances apart on a multi-process host.
func (c *Coordinator) diagnosticID() string {
	if !c.cfg.Anonymous {
		return strconv.FormatUint(uint64(c.cfg.LocalNodeID), 10)
	}
	if len(c.cfg.InterfaceAddresses) == 0 {
		return "anonymous"
	}
	return "anonymous@" + c.cfg.InterfaceAddresses[0].String()
}

// groupForOutput resolves the destination multicast group for an
// output specifier (section 3.2): subject-based for messages,
// destination-node-based for services (the invariant in section 3.3
// guarantees RemoteNodeID is set for any service output specifier).
func (c *Coordinator) groupForOutput(spec Specifier) (netip.Addr, cystatus.Status) {
	if spec.Data.Kind == Message {
		g, err := cyphal.MulticastGroupForMessage(spec.Data.ID)
		if err != nil {
			return netip.Addr{}, cystatus.New(cystatus.InvalidArgumentError, cystatus.LayerApplication)
		}
		return g, cystatus.OK()
	}
	return cyphal.MulticastGroupForService(spec.RemoteNodeID), cystatus.OK()
}

// groupForInput resolves the multicast group an input specifier
// listens on: subject-based for messages; for services, addressed to
// this transport's own node-ID, since service datagrams are destined
// to us regardless of which remote sent them.
func (c *Coordinator) groupForInput(spec Specifier) (netip.Addr, cystatus.Status) {
	if spec.Data.Kind == Message {
		g, err := cyphal.MulticastGroupForMessage(spec.Data.ID)
		if err != nil {
			return netip.Addr{}, cystatus.New(cystatus.InvalidArgumentError, cystatus.LayerApplication)
		}
		return g, cystatus.OK()
	}
	return cyphal.MulticastGroupForService(c.cfg.LocalNodeID), cystatus.OK()
}

// GetOutputSession returns the output session registered under spec,
// creating it on first request (section 4.6). Anonymous
// transports may not originate service transfers (section 3.1).
func (c *Coordinator) GetOutputSession(spec Specifier) (*OutputSession, cystatus.Status) {
	if c.state != Initialized {
		return nil, cystatus.New(cystatus.UninitializedError, cystatus.LayerTransport)
	}
	if c.cfg.Anonymous && spec.Data.Kind != Message {
		return nil, cystatus.New(cystatus.InvalidArgumentError, cystatus.LayerApplication)
	}

	_, existed := c.outputs.Get(spec)
	out, st := c.outputs.GetOrCreate(spec, func() (*OutputSession, cystatus.Status) {
		group, st := c.groupForOutput(spec)
		if !st.OK() {
			return nil, st
		}
		return NewOutputSession(
			spec, c.cfg.LocalNodeID, c.cfg.Anonymous, c.cfg.MTUBytes, c.cfg.TXQueueArena,
			group, cyphal.Port, c.cfg.InterfaceAddresses, c.ifaceQueues,
		)
	})
	if st.OK() && !existed && c.metrics != nil {
		c.metrics.RegisterOutputSession(spec.Data.Kind.String())
	}
	return out, st
}

// GetInputSession returns the input session registered under spec,
// creating it on first request (section 4.6). extentBytes is the
// PayloadMetadata.extent_bytes ceiling (section 6.3); 0 means
// unbounded.
func (c *Coordinator) GetInputSession(spec Specifier, extentBytes int) (*InputSession, cystatus.Status) {
	if c.state != Initialized {
		return nil, cystatus.New(cystatus.UninitializedError, cystatus.LayerTransport)
	}

	_, existed := c.inputs.Get(spec)
	in, st := c.inputs.GetOrCreate(spec, func() (*InputSession, cystatus.Status) {
		group, st := c.groupForInput(spec)
		if !st.OK() {
			return nil, st
		}
		return NewInputSession(
			spec, c.cfg.RXPayloadArena, group, cyphal.Port, c.cfg.InterfaceAddresses,
			c.cfg.TransferIDTimeout, extentBytes, c.poller,
		)
	})
	if st.OK() && !existed && c.metrics != nil {
		c.metrics.RegisterInputSession(spec.Data.Kind.String())
	}
	return in, st
}

// DeliverRequestToResponder wires an accepted service request to the
// matching response output session, activating it (section 4.7:
// "a response session is initially inactive... until the first
// matching request has arrived"). Call this after GetInputSession's
// ServiceProvider-role session delivers a request.
func (c *Coordinator) DeliverRequestToResponder(serviceID uint16, requesterNodeID uint16, transferID uint64) {
	respSpec := Specifier{
		Data:         DataSpecifier{Kind: ServiceProvider, ID: serviceID},
		RemoteNodeID: requesterNodeID,
		HasRemote:    true,
	}
	if resp, ok := c.outputs.Get(respSpec); ok {
		resp.RecordRequest(transferID)
	}
}

// RunFor performs bounded cooperative work for up to duration (
// section 4.9): drain one ready datagram per interface TX queue, then
// poll input sockets and dispatch readable events. It returns once
// duration elapses or there is no remaining work, never later than one
// extra poll round-trip (section 8.1).
func (c *Coordinator) RunFor(duration time.Duration) cystatus.Status {
	if c.state != Initialized {
		return cystatus.New(cystatus.UninitializedError, cystatus.LayerTransport)
	}

	deadline := time.Now().Add(duration)
	now := time.Now()

	c.drainTXQueues(now)

	remaining := time.Until(deadline)
	if remaining < 0 {
		remaining = 0
	}

	ready, st := c.poller.Poll(remaining)
	if st.Kind == cystatus.Timeout {
		c.expireInputSessions(time.Now())
		return cystatus.OK()
	}
	if !st.OK() {
		return st
	}

	now = time.Now()
	for _, sock := range ready {
		c.dispatchReadable(sock, now)
	}

	c.expireInputSessions(now)

	return cystatus.OK()
}

// drainTXQueues writes at most one ready datagram per interface queue
// to its socket (section 4.9, point 1). Each queued item already
// carries the exact socket it was pushed for (see sendViaInterfaceSocket),
// so the interface index here only selects which queue to drain next.
func (c *Coordinator) drainTXQueues(now time.Time) {
	for i, q := range c.ifaceQueues {
		item, ok := q.PopReady(now)

		dropped := q.Dropped()
		if c.metrics != nil {
			iface := c.cfg.InterfaceAddresses[i].String()
			c.metrics.SetTXQueueDepth(iface, q.Depth())
			if delta := dropped - c.lastDropped[i]; delta > 0 {
				c.metrics.AddTXQueueDropped(iface, delta)
			}
		}
		if dropped > c.lastDropped[i] {
			c.logger.Debug("tx queue dropped expired items", "total_dropped", dropped)
		}
		c.lastDropped[i] = dropped

		if !ok {
			continue
		}
		c.sendViaInterfaceSocket(i, item)
	}
}

// sendViaInterfaceSocket writes item.Payload through item.Socket, the
// exact socket its owning OutputSession pushed it for. Several output
// sessions can share one interface's queue while each holding a socket
// connected to its own destination group (one per specifier, see
// groupForOutput); sending through anything but the item's own socket
// would misdeliver it to the wrong multicast group.
func (c *Coordinator) sendViaInterfaceSocket(idx int, item cyphal.Item) {
	if item.Socket == nil {
		c.logger.Warn("tx item dropped: no socket recorded for it", "interface_index", idx)
		return
	}
	if st := item.Socket.Send(item.Payload); !st.OK() {
		c.logger.Warn("tx item dropped: socket send failed", "interface_index", idx, "status", st.Error())
	}
}

func (c *Coordinator) dispatchReadable(sock *udpsock.Socket, now time.Time) {
	for spec, in := range c.inputs.entries {
		for _, s := range in.Sockets() {
			if s == sock {
				if st := in.HandleReadable(sock, now); !st.OK() && st.Kind != cystatus.Timeout {
					c.logger.Warn("input session read failed", "status", st.Error())
				}
				c.reportInputStats(spec, in)
				return
			}
		}
	}
}

func (c *Coordinator) expireInputSessions(now time.Time) {
	for spec, in := range c.inputs.entries {
		in.ExpireStale(now)
		c.reportInputStats(spec, in)
	}
}

// reportInputStats folds the delta between in's current stats snapshot
// and the last one observed into the metrics collector, since
// InputSessionStats holds running totals rather than per-call deltas.
func (c *Coordinator) reportInputStats(spec Specifier, in *InputSession) {
	if c.metrics == nil {
		return
	}
	cur := in.Stats()
	prev := c.lastStats[spec]
	c.metrics.ObserveInputStats(
		cur.FramesAccepted-prev.FramesAccepted,
		cur.FramesRejectedCRC-prev.FramesRejectedCRC,
		cur.FramesRejectedOrder-prev.FramesRejectedOrder,
		cur.TransfersTimedOut-prev.TransfersTimedOut,
		cur.OversizePayloads-prev.OversizePayloads,
	)
	c.lastStats[spec] = cur
}

// Close moves the Coordinator to Closed, closing every session and
// socket (section 4.9). Idempotent.
func (c *Coordinator) Close() cystatus.Status {
	if c.state == Closed {
		return cystatus.New(cystatus.ResourceClosedError, cystatus.LayerTransport)
	}

	if c.metrics != nil {
		for spec := range c.outputs.entries {
			c.metrics.UnregisterOutputSession(spec.Data.Kind.String())
		}
		for spec := range c.inputs.entries {
			c.metrics.UnregisterInputSession(spec.Data.Kind.String())
		}
	}

	outSt := c.outputs.CloseAll()
	inSt := c.inputs.CloseAll()
	c.state = Closed

	c.logger.Info("transport closed")

	if outSt.OK() && inSt.OK() {
		return cystatus.OK()
	}
	return cystatus.Partial()
}
