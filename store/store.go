// Package store keeps received messages in a bbolt database. Metadata and
// content live in separate buckets keyed by the message ULID, so listing
// is in arrival order and does not read message bodies.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/synqronlabs/wren"
	"github.com/synqronlabs/wren/utils"
)

// ErrNotFound is returned for an unknown message ID.
var ErrNotFound = errors.New("store: message not found")

var (
	bucketMeta = []byte("meta")
	bucketBody = []byte("body")
)

// Store is a message store. It is safe for concurrent use.
type Store struct {
	db     *bolt.DB
	logger *slog.Logger
}

// Open opens or creates the database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketMeta, bucketBody} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init %s: %w", path, err)
	}
	return &Store{db: db, logger: logger.With(slog.String("component", "store"))}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores a message and returns its ID.
func (s *Store) Put(ctx context.Context, env *wren.Envelope, peer string, body []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m := Message{
		ID:       utils.GenerateID(),
		Envelope: env.Clone(),
		Received: time.Now().UTC(),
		Peer:     peer,
		Size:     int64(len(body)),
	}
	m.Subject, m.MessageID = readHeader(body)

	meta, err := m.MarshalMsg(nil)
	if err != nil {
		return "", fmt.Errorf("store: encode: %w", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		key := []byte(m.ID)
		if err := tx.Bucket(bucketMeta).Put(key, meta); err != nil {
			return err
		}
		return tx.Bucket(bucketBody).Put(key, body)
	})
	if err != nil {
		return "", fmt.Errorf("store: put: %w", err)
	}

	s.logger.Info("message stored",
		slog.String("id", m.ID),
		slog.Int64("size", m.Size),
		slog.String("message_id", m.MessageID),
	)
	return m.ID, nil
}

// Get returns the metadata of a message.
func (s *Store) Get(id string) (*Message, error) {
	var m Message
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		_, err := m.UnmarshalMsg(v)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Body returns the content of a message.
func (s *Store) Body(id string) ([]byte, error) {
	var body []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketBody).Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		body = append([]byte(nil), v...)
		return nil
	})
	return body, err
}

// List returns the metadata of all messages, oldest first.
func (s *Store) List(ctx context.Context) ([]*Message, error) {
	var msgs []*Message
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			m := new(Message)
			if _, err := m.UnmarshalMsg(v); err != nil {
				return fmt.Errorf("message %s: %w", k, err)
			}
			msgs = append(msgs, m)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	return msgs, nil
}

// Delete removes a message.
func (s *Store) Delete(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := []byte(id)
		if tx.Bucket(bucketMeta).Get(key) == nil {
			return ErrNotFound
		}
		if err := tx.Bucket(bucketMeta).Delete(key); err != nil {
			return err
		}
		return tx.Bucket(bucketBody).Delete(key)
	})
}

// Count returns the number of stored messages.
func (s *Store) Count() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketMeta).Stats().KeyN
		return nil
	})
	return n, err
}
