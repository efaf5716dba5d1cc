// Package store persists messages, relay packets, and the channel
// registry in a local SQLite database.
//
// The store exclusively owns persisted records. Message records are
// append-only and deletable only via an explicit per-channel clear.
// Relay packets carry an expiry; expired packets are excluded from reads
// lazily and purged by a periodic sweep.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/sirupsen/logrus"

	"github.com/W4ashabii/meshapp/channel"
	"github.com/W4ashabii/meshapp/store/migrations"
)

// DefaultPacketLifetime is how long a relay packet is kept for
// store-and-forward before it expires.
const DefaultPacketLifetime = 24 * time.Hour

// Message is a decrypted message record.
type Message struct {
	ID        string
	ChannelID channel.ID
	Plaintext []byte
	Timestamp time.Time
	IsSent    bool
}

// StoredPacket is an opaque relay packet queued for store-and-forward.
type StoredPacket struct {
	Fingerprint [32]byte
	ChannelID   channel.ID
	TTL         uint8
	Payload     []byte
	StoredAt    time.Time
	ExpiresAt   time.Time
}

// ChannelRecord is a registered channel with its kind discriminator.
type ChannelRecord struct {
	ChannelID channel.ID
	Kind      channel.Kind
}

// Store is the SQLite-backed message store. A single *sql.DB serializes
// writes, so appends are atomic with respect to concurrent reads.
type Store struct {
	db             *sql.DB
	packetLifetime time.Duration
	now            func() time.Time
}

// Open opens (creating if needed) the store at path and applies schema
// migrations. Use ":memory:" for an ephemeral store in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL keeps readers unblocked during the router's write bursts.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	if err := migrations.Run(db); err != nil {
		db.Close()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"path": path,
	}).Debug("Message store opened")

	return &Store{
		db:             db,
		packetLifetime: DefaultPacketLifetime,
		now:            time.Now,
	}, nil
}

// SetPacketLifetime overrides how long queued packets are held before
// they expire. Applies to packets saved after the call.
func (s *Store) SetPacketLifetime(d time.Duration) {
	if d > 0 {
		s.packetLifetime = d
	}
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// AppendMessage persists a decrypted message record and returns it with
// its generated id and timestamp.
func (s *Store) AppendMessage(channelID channel.ID, plaintext []byte, isSent bool) (*Message, error) {
	msg := &Message{
		ID:        uuid.NewString(),
		ChannelID: channelID,
		Plaintext: plaintext,
		Timestamp: s.now(),
		IsSent:    isSent,
	}

	_, err := s.db.Exec(
		`INSERT INTO messages (id, channel_id, plaintext, timestamp, is_sent)
		 VALUES (?, ?, ?, ?, ?)`,
		msg.ID, channelID[:], plaintext, msg.Timestamp.UnixMilli(), boolToInt(isSent),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	return msg, nil
}

// Messages returns a channel's message records ordered by timestamp
// ascending, bounded by limit and offset for pagination.
func (s *Store) Messages(channelID channel.ID, limit, offset int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(
		`SELECT id, channel_id, plaintext, timestamp, is_sent
		 FROM messages
		 WHERE channel_id = ?
		 ORDER BY timestamp ASC, id ASC
		 LIMIT ? OFFSET ?`,
		channelID[:], limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			msg    Message
			chBlob []byte
			ts     int64
			sent   int
		)
		if err := rows.Scan(&msg.ID, &chBlob, &msg.Plaintext, &ts, &sent); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		copy(msg.ChannelID[:], chBlob)
		msg.Timestamp = time.UnixMilli(ts)
		msg.IsSent = sent != 0
		out = append(out, msg)
	}
	return out, rows.Err()
}

// ClearChannel irreversibly deletes all message records and queued
// packets for one channel. Other channels are untouched.
func (s *Store) ClearChannel(channelID channel.ID) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin clear: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM messages WHERE channel_id = ?`, channelID[:]); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM packets WHERE channel_id = ?`, channelID[:]); err != nil {
		return fmt.Errorf("failed to clear packets: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit clear: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"channel": channelID.String()[:16],
	}).Info("Channel cleared")

	return nil
}

// SavePacket queues an opaque packet for store-and-forward replay.
// Idempotent on fingerprint: re-saving the same packet is a no-op.
func (s *Store) SavePacket(fingerprint [32]byte, channelID channel.ID, ttl uint8, payload []byte) error {
	now := s.now()
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO packets (fingerprint, channel_id, ttl, payload, stored_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		fingerprint[:], channelID[:], int(ttl), payload,
		now.UnixMilli(), now.Add(s.packetLifetime).UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save packet: %w", err)
	}
	return nil
}

// PendingPackets returns unexpired queued packets, oldest first, for
// replay to a peer that has just become reachable.
func (s *Store) PendingPackets(limit int) ([]StoredPacket, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.Query(
		`SELECT fingerprint, channel_id, ttl, payload, stored_at, expires_at
		 FROM packets
		 WHERE expires_at > ?
		 ORDER BY stored_at ASC
		 LIMIT ?`,
		s.now().UnixMilli(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query packets: %w", err)
	}
	defer rows.Close()

	var out []StoredPacket
	for rows.Next() {
		var (
			p                  StoredPacket
			fpBlob, chBlob     []byte
			ttl                int
			storedAt, expireAt int64
		)
		if err := rows.Scan(&fpBlob, &chBlob, &ttl, &p.Payload, &storedAt, &expireAt); err != nil {
			return nil, fmt.Errorf("failed to scan packet: %w", err)
		}
		copy(p.Fingerprint[:], fpBlob)
		copy(p.ChannelID[:], chBlob)
		p.TTL = uint8(ttl)
		p.StoredAt = time.UnixMilli(storedAt)
		p.ExpiresAt = time.UnixMilli(expireAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeletePacket removes a queued packet, typically after its lifetime
// ended or its channel was cleared.
func (s *Store) DeletePacket(fingerprint [32]byte) error {
	if _, err := s.db.Exec(`DELETE FROM packets WHERE fingerprint = ?`, fingerprint[:]); err != nil {
		return fmt.Errorf("failed to delete packet: %w", err)
	}
	return nil
}

// SweepExpired purges expired packets and returns how many were removed.
func (s *Store) SweepExpired() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM packets WHERE expires_at <= ?`, s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep packets: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logrus.WithFields(logrus.Fields{
			"purged": n,
		}).Debug("Swept expired packets")
	}
	return n, nil
}

// RegisterChannel records a channel and its kind. Idempotent.
func (s *Store) RegisterChannel(channelID channel.ID, kind channel.Kind) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO channels (channel_id, kind) VALUES (?, ?)`,
		channelID[:], string(kind),
	)
	if err != nil {
		return fmt.Errorf("failed to register channel: %w", err)
	}
	return nil
}

// Channels lists registered channels of one kind.
func (s *Store) Channels(kind channel.Kind) ([]ChannelRecord, error) {
	rows, err := s.db.Query(`SELECT channel_id, kind FROM channels WHERE kind = ?`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to query channels: %w", err)
	}
	defer rows.Close()

	var out []ChannelRecord
	for rows.Next() {
		var (
			rec    ChannelRecord
			chBlob []byte
			k      string
		)
		if err := rows.Scan(&chBlob, &k); err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		copy(rec.ChannelID[:], chBlob)
		rec.Kind = channel.Kind(k)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
