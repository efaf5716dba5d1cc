// Package meshapp implements the core of an offline-first, end-to-end
// encrypted mesh messenger. Devices exchange messages directly over
// short-range transports, relay on behalf of peers, and hold packets
// for recipients that are out of range, all without any server.
//
// Example:
//
//	options := meshapp.NewOptions("/var/lib/mesh")
//
//	core, err := meshapp.New(options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer core.Close()
//
//	core.OnMessage(func(channelID channel.ID, plaintext []byte) {
//	    fmt.Printf("[%s] %s\n", channelID.String()[:16], plaintext)
//	})
//
//	core.AddTransport(bleTransport)
//
//	for core.IsRunning() {
//	    core.Iterate()
//	    time.Sleep(core.IterationInterval())
//	}
package meshapp

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/W4ashabii/meshapp/channel"
	"github.com/W4ashabii/meshapp/config"
	"github.com/W4ashabii/meshapp/contact"
	"github.com/W4ashabii/meshapp/crypto"
	"github.com/W4ashabii/meshapp/identity"
	"github.com/W4ashabii/meshapp/mention"
	"github.com/W4ashabii/meshapp/router"
	"github.com/W4ashabii/meshapp/store"
	"github.com/W4ashabii/meshapp/transport"
)

// DatabaseFileName is the message database file inside the data
// directory.
const DatabaseFileName = "messages.db"

// ErrNoDirectChannel is returned when a contact cannot carry a direct
// channel because their key exchange key is unknown. Re-import the
// contact's full identity bundle to fix it.
var ErrNoDirectChannel = errors.New("contact has no key exchange key")

// Options configures a Core instance.
type Options struct {
	// DataDir is the root directory for the identity, contacts,
	// configuration, and message database.
	DataDir string
	// Config overrides the configuration loaded from DataDir.
	Config *config.Config
}

// NewOptions returns Options rooted at dataDir.
func NewOptions(dataDir string) *Options {
	return &Options{DataDir: dataDir}
}

// Core is a running messenger instance. It owns the device identity,
// the contact registry, the channel session engine, the message store,
// and the packet router, and wires them together.
type Core struct {
	mu       sync.Mutex
	cfg      *config.Config
	identity *identity.Identity
	contacts *contact.Registry
	store    *store.Store
	engine   *channel.Engine
	router   *router.Router
	running  bool
}

// New loads or creates all device state under the options' data
// directory and returns a ready Core. A fresh directory gets a new
// identity; an existing one is restored, including direct channels for
// every known contact and previously joined geo channels.
func New(options *Options) (*Core, error) {
	if options == nil || options.DataDir == "" {
		return nil, errors.New("options with a data directory are required")
	}

	cfg := options.Config
	if cfg == nil {
		var err error
		cfg, err = config.Load(options.DataDir)
		if err != nil {
			return nil, err
		}
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	}

	id, err := identity.LoadOrGenerate(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("loading identity: %w", err)
	}

	contacts, err := contact.Load(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("loading contacts: %w", err)
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, DatabaseFileName))
	if err != nil {
		return nil, fmt.Errorf("opening message store: %w", err)
	}
	st.SetPacketLifetime(cfg.PacketLifetime())

	engine := channel.NewEngine(id.Exchange)
	r := router.New(engine, st)
	r.SetTTL(cfg.Mesh.TTL)

	c := &Core{
		cfg:      cfg,
		identity: id,
		contacts: contacts,
		store:    st,
		engine:   engine,
		router:   r,
		running:  true,
	}

	if err := c.restoreChannels(); err != nil {
		st.Close()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":    "New",
		"fingerprint": id.Fingerprint(),
		"contacts":    contacts.Len(),
	}).Info("Mesh core started")

	return c, nil
}

// restoreChannels re-registers direct channels for contacts with known
// exchange keys and rejoins persisted geo channels.
func (c *Core) restoreChannels() error {
	for _, f := range c.contacts.List() {
		if !f.HasExchangeKey() {
			continue
		}
		ch := c.directChannel(f)
		if err := c.engine.RegisterPeer(ch, f.X25519Public); err != nil {
			return fmt.Errorf("restoring channel for %s: %w", f.Nickname, err)
		}
	}

	geo, err := c.store.Channels(channel.KindGeo)
	if err != nil {
		return fmt.Errorf("restoring geo channels: %w", err)
	}
	for _, rec := range geo {
		c.engine.JoinGeoID(rec.ChannelID)
	}
	return nil
}

// SelfID returns this device's user identifier.
func (c *Core) SelfID() crypto.UserID {
	return c.identity.UserID
}

// SelfFingerprint returns the short hex fingerprint shown during
// verification.
func (c *Core) SelfFingerprint() string {
	return c.identity.Fingerprint()
}

// ExportIdentity returns the shareable public identity bundle. It
// contains no secret material.
func (c *Core) ExportIdentity() ([]byte, error) {
	return c.identity.Export()
}

// AddContact imports a peer's identity bundle under a nickname and
// opens a direct channel to them. Importing a bundle for an existing
// contact upgrades a key-exchange-less entry in place.
func (c *Core) AddContact(bundle []byte, nickname string) (crypto.UserID, error) {
	userID, err := c.contacts.ImportBundle(bundle, nickname)
	if err != nil {
		return crypto.UserID{}, err
	}

	f, err := c.contacts.Get(userID)
	if err != nil {
		return crypto.UserID{}, err
	}

	ch := c.directChannel(f)
	if err := c.engine.RegisterPeer(ch, f.X25519Public); err != nil {
		return crypto.UserID{}, err
	}
	if err := c.store.RegisterChannel(ch, channel.KindDirect); err != nil {
		return crypto.UserID{}, err
	}
	return userID, nil
}

// AddContactByKey adds a contact from a bare Ed25519 public key, for
// example one read from a QR code. The contact cannot carry a direct
// channel until their full bundle is imported.
func (c *Core) AddContactByKey(ed25519Public [32]byte, nickname string) (crypto.UserID, error) {
	return c.contacts.Add(ed25519Public, nickname)
}

// RemoveContact deletes a contact, closes their direct channel, and
// reports whether the contact existed. Stored messages survive until
// ClearChannel.
func (c *Core) RemoveContact(userID crypto.UserID) (bool, error) {
	f, err := c.contacts.Get(userID)
	if err == nil && f.HasExchangeKey() {
		c.engine.Close(c.directChannel(f))
	}
	return c.contacts.Remove(userID)
}

// UpdateContact applies a partial profile update to a contact.
func (c *Core) UpdateContact(userID crypto.UserID, update contact.ProfileUpdate) error {
	return c.contacts.UpdateProfile(userID, update)
}

// Contacts returns all contacts sorted by user id.
func (c *Core) Contacts() []*contact.Friend {
	return c.contacts.List()
}

// GetContact returns one contact by user id.
func (c *Core) GetContact(userID crypto.UserID) (*contact.Friend, error) {
	return c.contacts.Get(userID)
}

// DirectChannel returns the direct channel id shared with a contact.
func (c *Core) DirectChannel(userID crypto.UserID) (channel.ID, error) {
	f, err := c.contacts.Get(userID)
	if err != nil {
		return channel.ID{}, err
	}
	if !f.HasExchangeKey() {
		return channel.ID{}, fmt.Errorf("%w: %s", ErrNoDirectChannel, f.Nickname)
	}
	return c.directChannel(f), nil
}

// directChannel derives the channel id from the two signing keys; both
// sides compute the same id regardless of who adds whom first.
func (c *Core) directChannel(f *contact.Friend) channel.ID {
	return channel.DeriveDirectID(c.identity.Signing.Public, f.Ed25519Public)
}

// Connect starts the session handshake with a contact and broadcasts
// the opening frame. The session becomes usable once the peer's
// response arrives; watch ChannelState for StateEstablished.
func (c *Core) Connect(userID crypto.UserID) error {
	ch, err := c.DirectChannel(userID)
	if err != nil {
		return err
	}

	frame, err := c.engine.Initiate(ch)
	if err != nil {
		return err
	}
	if err := c.router.SendPayload(ch, frame); err != nil && !errors.Is(err, router.ErrNoTransport) {
		return err
	}
	return nil
}

// ChannelState reports the session state of a channel.
func (c *Core) ChannelState(ch channel.ID) channel.State {
	return c.engine.State(ch)
}

// ResetChannel discards a contact's session state, clearing the
// handshake attempt budget so Connect can be retried after repeated
// failures.
func (c *Core) ResetChannel(userID crypto.UserID) error {
	ch, err := c.DirectChannel(userID)
	if err != nil {
		return err
	}
	c.engine.ResetSession(ch)
	return nil
}

// SendDirectMessage encrypts and sends a text message to a contact.
// Without an established session it starts the handshake and returns
// ErrSessionNotEstablished; retry once the session is up. The sent
// message is persisted locally and the packet is queued for
// store-and-forward, so an unreachable recipient receives it when a
// relay meets them within the packet lifetime.
func (c *Core) SendDirectMessage(userID crypto.UserID, text string) (*store.Message, error) {
	ch, err := c.DirectChannel(userID)
	if err != nil {
		return nil, err
	}

	if c.engine.State(ch) != channel.StateEstablished {
		if err := c.Connect(userID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("handshake started with %s: %w", ch.String()[:16], channel.ErrSessionNotEstablished)
	}

	return c.router.Send(ch, []byte(text))
}

// JoinGeoChannel joins an open-membership channel identified by a
// geohash prefix and a topic, and returns its id. Anyone who knows
// both can join; there is no member authentication on geo channels.
func (c *Core) JoinGeoChannel(geohash, topic string) (channel.ID, error) {
	ch := c.engine.JoinGeo(geohash, topic)
	if err := c.store.RegisterChannel(ch, channel.KindGeo); err != nil {
		return channel.ID{}, err
	}
	return ch, nil
}

// LeaveGeoChannel leaves a geo channel. History stays until
// ClearChannel.
func (c *Core) LeaveGeoChannel(ch channel.ID) {
	c.engine.LeaveGeo(ch)
}

// SendGeoMessage sends a text message on a joined geo channel.
func (c *Core) SendGeoMessage(ch channel.ID, text string) (*store.Message, error) {
	return c.router.Send(ch, []byte(text))
}

// SelfChannel returns the device's notes-to-self channel id.
func (c *Core) SelfChannel() channel.ID {
	return channel.DeriveDirectID(c.identity.Signing.Public, c.identity.Signing.Public)
}

// SaveSelfNote stores a note on the self channel and broadcasts a
// deterministically encrypted copy, which another device holding the
// same identity can decrypt with DecryptSelfMessage. The note is
// readable locally regardless of any session state.
func (c *Core) SaveSelfNote(text string) (*store.Message, error) {
	ch := c.SelfChannel()
	if err := c.store.RegisterChannel(ch, channel.KindDirect); err != nil {
		return nil, err
	}

	msg, err := c.store.AppendMessage(ch, []byte(text), true)
	if err != nil {
		return nil, err
	}

	sealed, err := channel.EncryptSelfMessage(ch, sha256.Sum256([]byte(msg.ID)), []byte(text))
	if err != nil {
		return nil, err
	}
	if err := c.router.SendPayload(ch, sealed); err != nil && !errors.Is(err, router.ErrNoTransport) {
		return nil, err
	}
	return msg, nil
}

// Messages returns stored messages for a channel in chronological
// order. limit and offset page through history; limit 0 applies the
// store default.
func (c *Core) Messages(ch channel.ID, limit, offset int) ([]store.Message, error) {
	return c.store.Messages(ch, limit, offset)
}

// ClearChannel deletes all stored messages and queued packets for a
// channel.
func (c *Core) ClearChannel(ch channel.ID) error {
	return c.store.ClearChannel(ch)
}

// Mentions resolves @nickname references in a message body against the
// contact registry.
func (c *Core) Mentions(text string) []mention.Mention {
	return mention.Extract(text, c.contacts)
}

// AddTransport registers a transport with the router. Frames the
// transport receives must be handed to HandleInbound.
func (c *Core) AddTransport(t transport.Transport) {
	c.router.AddTransport(t)
}

// RemoveTransport unregisters a transport by name.
func (c *Core) RemoveTransport(name string) {
	c.router.RemoveTransport(name)
}

// HandleInbound feeds a raw frame received on the named transport into
// the router. Safe to call from transport goroutines. Frames arriving
// after Close are dropped; the key material is already wiped.
func (c *Core) HandleInbound(data []byte, origin string) {
	if !c.IsRunning() {
		return
	}
	c.router.HandleInbound(data, origin)
}

// OnMessage sets the handler invoked for every decrypted inbound
// message after it has been persisted.
func (c *Core) OnMessage(fn router.MessageHandler) {
	c.router.OnMessage(fn)
}

// Iterate performs one round of background maintenance: expiring idle
// sessions, sweeping expired packets, and flushing the
// store-and-forward queue. Call it periodically, spaced by
// IterationInterval.
func (c *Core) Iterate() {
	c.engine.ExpireIdle()
	if _, err := c.router.FlushPending(0); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Core.Iterate",
			"error":    err.Error(),
		}).Warn("Maintenance flush failed")
	}
}

// IterationInterval returns the maintenance cadence for the configured
// battery mode.
func (c *Core) IterationInterval() time.Duration {
	return c.cfg.BatteryMode().ScanInterval()
}

// Stats returns the router's traffic counters.
func (c *Core) Stats() router.Stats {
	return c.router.Stats()
}

// Config returns the active configuration.
func (c *Core) Config() *config.Config {
	return c.cfg
}

// IsRunning reports whether the core has not been closed.
func (c *Core) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Close releases the store and stops the core. The identity and
// contacts are already durable on disk.
func (c *Core) Close() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.mu.Unlock()

	crypto.WipeKeyPair(c.identity.Exchange)
	crypto.WipeKeyPair(c.identity.Signing)
	return c.store.Close()
}
