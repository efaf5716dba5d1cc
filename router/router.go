// Package router moves mesh packets between transports, the channel
// engine, and the store-and-forward queue. It owns the hop semantics:
// deduplication, TTL accounting, local delivery, and relaying on
// behalf of peers whose recipients are out of range.
package router

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/W4ashabii/meshapp/channel"
	"github.com/W4ashabii/meshapp/limits"
	"github.com/W4ashabii/meshapp/store"
	"github.com/W4ashabii/meshapp/transport"
)

// ErrNoTransport is returned by Send when no registered transport is
// currently available. The packet is still persisted for later flush.
var ErrNoTransport = errors.New("no transport available")

// MessageHandler receives decrypted inbound application messages.
type MessageHandler func(channelID channel.ID, plaintext []byte)

// Stats counts router activity since startup. All counters are
// monotonic.
type Stats struct {
	Received     uint64
	Duplicates   uint64
	Delivered    uint64
	Forwarded    uint64
	TTLExhausted uint64
	Sent         uint64
}

// Router is the per-device packet switch. It is safe for concurrent
// use; transports may call HandleInbound from their own receive
// goroutines.
type Router struct {
	mu         sync.Mutex
	engine     *channel.Engine
	store      *store.Store
	dedup      *dedupWindow
	transports map[string]transport.Transport
	onMessage  MessageHandler
	stats      Stats
	ttl        uint8
	now        func() time.Time
}

// New creates a router bound to a channel engine and a message store.
func New(engine *channel.Engine, st *store.Store) *Router {
	return &Router{
		engine:     engine,
		store:      st,
		dedup:      newDedupWindow(),
		transports: make(map[string]transport.Transport),
		ttl:        limits.DefaultTTL,
		now:        time.Now,
	}
}

// SetTTL sets the hop budget stamped on packets originated by this
// router. Values outside the valid range are clamped.
func (r *Router) SetTTL(ttl uint8) {
	r.mu.Lock()
	r.ttl = limits.ClampTTL(ttl)
	r.mu.Unlock()
}

// AddTransport registers a transport under its name. Registering a
// second transport with the same name replaces the first.
func (r *Router) AddTransport(t transport.Transport) {
	r.mu.Lock()
	r.transports[t.Name()] = t
	r.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":  "Router.AddTransport",
		"transport": t.Name(),
	}).Info("Transport registered")
}

// RemoveTransport unregisters a transport by name.
func (r *Router) RemoveTransport(name string) {
	r.mu.Lock()
	delete(r.transports, name)
	r.mu.Unlock()
}

// OnMessage sets the handler invoked for each decrypted inbound
// message, after the message has been persisted.
func (r *Router) OnMessage(fn MessageHandler) {
	r.mu.Lock()
	r.onMessage = fn
	r.mu.Unlock()
}

// Send encrypts plaintext for the channel, persists the message and
// the outgoing packet, and broadcasts it on every available transport.
// The packet stays queued for FlushPending even after a successful
// broadcast, so peers that come into range later can still pick it up
// until it expires.
func (r *Router) Send(channelID channel.ID, plaintext []byte) (*store.Message, error) {
	if err := limits.ValidatePlaintext(plaintext); err != nil {
		return nil, err
	}

	payload, err := r.engine.Encrypt(channelID, plaintext)
	if err != nil {
		return nil, fmt.Errorf("encrypting for channel: %w", err)
	}

	// Serialize before touching the store so a payload the wire format
	// rejects never leaves a persisted message with nothing queued.
	p, frame, err := r.makePacket(channelID, payload)
	if err != nil {
		return nil, err
	}

	msg, err := r.store.AppendMessage(channelID, plaintext, true)
	if err != nil {
		return nil, fmt.Errorf("persisting message: %w", err)
	}

	if err := r.dispatch(p, frame, true); err != nil {
		return msg, err
	}
	return msg, nil
}

// SendPayload broadcasts an already encrypted payload, such as a
// handshake frame produced by the channel engine. Handshake frames
// are not queued for store-and-forward; a handshake only makes sense
// while both peers are reachable.
func (r *Router) SendPayload(channelID channel.ID, payload []byte) error {
	p, frame, err := r.makePacket(channelID, payload)
	if err != nil {
		return err
	}
	return r.dispatch(p, frame, false)
}

// makePacket stamps an outgoing payload with the configured hop budget
// and serializes it, validating size limits before anything is stored.
func (r *Router) makePacket(channelID channel.ID, payload []byte) (*transport.Packet, []byte, error) {
	r.mu.Lock()
	ttl := r.ttl
	r.mu.Unlock()

	p := &transport.Packet{
		ChannelID: channelID,
		TTL:       ttl,
		Timestamp: r.now().UnixMilli(),
		Payload:   payload,
	}
	frame, err := p.Serialize()
	if err != nil {
		return nil, nil, err
	}
	return p, frame, nil
}

func (r *Router) dispatch(p *transport.Packet, frame []byte, persist bool) error {
	channelID := p.ChannelID

	// Record our own packet as seen so a transport echo does not loop
	// back through local delivery.
	r.dedup.checkAndStore(p.Fingerprint())

	if persist {
		if err := r.store.SavePacket(p.Fingerprint(), channelID, p.TTL, p.Payload); err != nil {
			return fmt.Errorf("queueing packet: %w", err)
		}
	}

	sent := r.broadcast(frame, "")
	r.mu.Lock()
	r.stats.Sent++
	r.mu.Unlock()

	if sent == 0 {
		return ErrNoTransport
	}
	return nil
}

// HandleInbound processes a raw frame received from a transport.
// origin is the name of the transport it arrived on, used to avoid
// relaying a packet straight back out the interface it came in.
//
// Malformed frames and duplicates are dropped silently; a mesh relay
// cannot afford to treat hostile or noisy input as an error.
func (r *Router) HandleInbound(data []byte, origin string) {
	p, err := transport.Parse(data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Router.HandleInbound",
			"origin":   origin,
			"error":    err.Error(),
		}).Debug("Dropping unparseable frame")
		return
	}

	r.mu.Lock()
	r.stats.Received++
	r.mu.Unlock()

	fp := p.Fingerprint()
	if !r.dedup.checkAndStore(fp) {
		r.mu.Lock()
		r.stats.Duplicates++
		r.mu.Unlock()
		return
	}

	r.deliverLocal(p)
	r.forward(p, fp, origin)
}

// deliverLocal hands the payload to the channel engine when this
// device participates in the packet's channel. Packets for unknown
// channels are relay traffic and skip delivery entirely.
func (r *Router) deliverLocal(p *transport.Packet) {
	if _, known := r.engine.KindOf(p.ChannelID); !known {
		return
	}

	in, err := r.engine.HandleInbound(p.ChannelID, p.Payload)
	if err != nil {
		// Decrypt failures on a known channel are expected on a mesh:
		// the packet may be a DM half we are relaying, a stale session
		// epoch, or garbage. Log and keep relaying.
		logrus.WithFields(logrus.Fields{
			"function": "Router.deliverLocal",
			"channel":  p.ChannelID.String()[:16],
			"error":    err.Error(),
		}).Debug("Inbound payload not deliverable locally")
		return
	}

	if in.Established {
		logrus.WithFields(logrus.Fields{
			"function": "Router.deliverLocal",
			"channel":  p.ChannelID.String()[:16],
		}).Info("Channel session established")
	}

	if in.Response != nil {
		if err := r.SendPayload(p.ChannelID, in.Response); err != nil && !errors.Is(err, ErrNoTransport) {
			logrus.WithFields(logrus.Fields{
				"function": "Router.deliverLocal",
				"channel":  p.ChannelID.String()[:16],
				"error":    err.Error(),
			}).Warn("Failed to send handshake response")
		}
	}

	if in.Plaintext == nil {
		return
	}

	if _, err := r.store.AppendMessage(p.ChannelID, in.Plaintext, false); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Router.deliverLocal",
			"channel":  p.ChannelID.String()[:16],
			"error":    err.Error(),
		}).Error("Failed to persist inbound message")
		return
	}

	r.mu.Lock()
	r.stats.Delivered++
	handler := r.onMessage
	r.mu.Unlock()

	if handler != nil {
		handler(p.ChannelID, in.Plaintext)
	}
}

// forward relays the packet on every other available transport with a
// decremented TTL, and queues it for store-and-forward. An exhausted
// TTL ends the packet's journey here.
func (r *Router) forward(p *transport.Packet, fp transport.Fingerprint, origin string) {
	if p.TTL <= limits.MinRelayTTL {
		r.mu.Lock()
		r.stats.TTLExhausted++
		r.mu.Unlock()
		return
	}

	relayed := &transport.Packet{
		ChannelID: p.ChannelID,
		TTL:       p.TTL - 1,
		Timestamp: p.Timestamp,
		Payload:   p.Payload,
	}
	frame, err := relayed.Serialize()
	if err != nil {
		return
	}

	// Handshake frames are ephemeral and never queued; everything else
	// is kept for peers that come into range before it expires.
	if !channel.IsHandshakePayload(p.Payload) {
		if err := r.store.SavePacket(fp, p.ChannelID, relayed.TTL, p.Payload); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Router.forward",
				"error":    err.Error(),
			}).Warn("Failed to queue packet for store-and-forward")
		}
	}

	if r.broadcast(frame, origin) > 0 {
		r.mu.Lock()
		r.stats.Forwarded++
		r.mu.Unlock()
	}
}

// FlushPending re-broadcasts queued packets, typically after a new
// transport became available or a peer came back into range. Flushed
// packets are removed from the queue once at least one transport
// accepted them. Returns the number of packets flushed.
func (r *Router) FlushPending(limit int) (int, error) {
	if _, err := r.store.SweepExpired(); err != nil {
		return 0, fmt.Errorf("sweeping expired packets: %w", err)
	}

	pending, err := r.store.PendingPackets(limit)
	if err != nil {
		return 0, fmt.Errorf("loading pending packets: %w", err)
	}

	flushed := 0
	for _, sp := range pending {
		p := &transport.Packet{
			ChannelID: sp.ChannelID,
			TTL:       sp.TTL,
			Timestamp: sp.StoredAt.UnixMilli(),
			Payload:   sp.Payload,
		}
		frame, err := p.Serialize()
		if err != nil {
			continue
		}
		if r.broadcast(frame, "") == 0 {
			continue
		}
		if err := r.store.DeletePacket(sp.Fingerprint); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Router.FlushPending",
				"error":    err.Error(),
			}).Warn("Failed to dequeue flushed packet")
		}
		flushed++
	}

	if flushed > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Router.FlushPending",
			"count":    flushed,
		}).Info("Flushed pending packets")
	}
	return flushed, nil
}

// Stats returns a snapshot of the router counters.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// broadcast sends the frame on every available transport except the
// named one and returns how many accepted it.
func (r *Router) broadcast(frame []byte, exclude string) int {
	r.mu.Lock()
	targets := make([]transport.Transport, 0, len(r.transports))
	for name, t := range r.transports {
		if name == exclude {
			continue
		}
		targets = append(targets, t)
	}
	r.mu.Unlock()

	sent := 0
	for _, t := range targets {
		if !t.IsAvailable() {
			continue
		}
		if err := t.Send(frame); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":  "Router.broadcast",
				"transport": t.Name(),
				"error":     err.Error(),
			}).Warn("Transport send failed")
			continue
		}
		sent++
	}
	return sent
}
