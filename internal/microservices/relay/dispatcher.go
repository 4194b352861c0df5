package relay

import (
	"fmt"
	"log/slog"

	"screenrelay/internal/shared"
)

// AdminLabel prefixes operator broadcasts and server notices
const AdminLabel = "SERVER"

// Delivery counts the outcome of one fan-out
type Delivery struct {
	Attempted int // recipients a send was issued to
	Failed    int // sends that returned an error
}

// Forwarder receives every frame the dispatcher fans out locally, so it can be
// mirrored to other relay instances. Forward must not block.
type Forwarder interface {
	Forward(originID string, msg []byte, binary bool)
}

// Dispatcher routes parsed envelopes to the registry
type Dispatcher struct {
	registry  *Registry
	forwarder Forwarder
	logger    *slog.Logger
}

// constructor for Dispatcher
func NewDispatcher(registry *Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		logger:   logger,
	}
}

// SetForwarder attaches a cluster forwarder; call before serving traffic
func (d *Dispatcher) SetForwarder(f Forwarder) {
	d.forwarder = f
}

// Relay fans a peer's envelope out to every other live connection.
// Chat content is labelled with the origin; screen frames and unknown
// messages go out byte for byte. The inbound opcode is kept: a binary frame
// is relayed as a binary frame.
func (d *Dispatcher) Relay(origin Conn, env shared.Envelope) Delivery {
	out := env
	switch env.Kind {
	case shared.KindChat:
		d.logger.Info("chat_received",
			"client_id", origin.ID(),
			"content", env.Payload,
		)
		out = shared.Chat(fmt.Sprintf("Client %s: %s", origin.ID(), env.Payload))
		out.Binary = env.Binary
	case shared.KindScreen:
		// never log frame content
		d.logger.Debug("screen_received",
			"client_id", origin.ID(),
			"bytes", len(env.Payload),
			"binary", env.Binary,
		)
	default:
		d.logger.Info("other_received",
			"client_id", origin.ID(),
			"content", shared.Preview(env.Payload, 50),
		)
	}

	msg := []byte(out.Raw())
	delivery := d.DeliverFrame(msg, out.Binary, origin.ID())
	if d.forwarder != nil {
		d.forwarder.Forward(origin.ID(), msg, out.Binary)
	}
	return delivery
}

// Broadcast sends an operator message to every live connection.
func (d *Dispatcher) Broadcast(text string) Delivery {
	msg := []byte(shared.Chat(AdminLabel + ": " + text).Raw())
	if d.registry.Count() == 0 {
		d.logger.Info("admin_broadcast_no_clients", "content", text)
	} else {
		d.logger.Info("admin_broadcast",
			"clients", d.registry.Count(),
			"content", text,
		)
	}

	delivery := d.Deliver(msg, "")
	if d.forwarder != nil {
		d.forwarder.Forward(AdminLabel, msg, false)
	}
	return delivery
}

// Deliver sends msg as a text frame to every connection in a registry
// snapshot except the one with ID exclude (empty = nobody excluded).
func (d *Dispatcher) Deliver(msg []byte, exclude string) Delivery {
	return d.DeliverFrame(msg, false, exclude)
}

// DeliverFrame is Deliver with an explicit opcode. A failed send is logged
// and counted, never retried: the recipient's own read loop tears it down.
func (d *Dispatcher) DeliverFrame(msg []byte, binary bool, exclude string) Delivery {
	var delivery Delivery
	for _, c := range d.registry.Snapshot() {
		if c.ID() == exclude {
			continue
		}
		delivery.Attempted++
		if err := send(c, msg, binary); err != nil {
			delivery.Failed++
			d.logger.Warn("relay_send_failed",
				"client_id", c.ID(),
				"error", err.Error(),
			)
		}
	}
	return delivery
}

func send(c Conn, msg []byte, binary bool) error {
	if bc, ok := c.(BinaryConn); ok && binary {
		return bc.SendBinary(msg)
	}
	return c.Send(msg)
}
