package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"goflare.io/encore/internal/config"
	"goflare.io/encore/internal/models"
	"goflare.io/encore/pkg/serialization"
)

const expiryPrefixLen = 8

// Bolt persists results so a restarted bot keeps answering recent inline queries
// from disk. Each value is an 8-byte big-endian expiry in unix nanoseconds followed
// by the serialized set.
type Bolt struct {
	db     *bbolt.DB
	bucket []byte
	ttl    time.Duration
	limit  int
	codec  config.SerializationConfig
	now    func() time.Time
	logger *zap.Logger
}

func OpenBolt(cfg config.BoltConfig, ttl time.Duration, codec config.SerializationConfig, clock func() time.Time, logger *zap.Logger) (*Bolt, error) {
	db, err := bbolt.Open(cfg.Path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt store %s: %w", cfg.Path, err)
	}

	bucket := []byte(cfg.Bucket)
	if len(bucket) == 0 {
		bucket = []byte("search")
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}

	if codec.Encoder == nil || codec.Decoder == nil {
		codec.Encoder, codec.Decoder = serialization.JSONEncoder, serialization.JSONDecoder
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Bolt{db: db, bucket: bucket, ttl: ttl, limit: cfg.MaxEntries, codec: codec, now: clock, logger: logger}

	// Rows that expired while the process was down are dropped up front.
	if n, err := s.Purge(); err != nil {
		logger.Warn("Failed to purge expired results", zap.Error(err))
	} else if n > 0 {
		logger.Info("Purged expired results", zap.Int("removed", n), zap.String("path", cfg.Path))
	}
	return s, nil
}

func (s *Bolt) Get(_ context.Context, key string) (*models.ResultSet, bool, error) {
	var (
		payload []byte
		expired bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(s.bucket).Get([]byte(key))
		if len(v) < expiryPrefixLen {
			return nil
		}
		expiresAt := int64(binary.BigEndian.Uint64(v[:expiryPrefixLen]))
		if s.now().UnixNano() >= expiresAt {
			expired = true
			return nil
		}
		payload = append([]byte(nil), v[expiryPrefixLen:]...)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", key, err)
	}

	if expired {
		if err := s.Delete(context.Background(), key); err != nil {
			s.logger.Warn("Failed to drop expired result set", zap.String("key", key), zap.Error(err))
		}
		return nil, false, nil
	}
	if payload == nil {
		return nil, false, nil
	}

	var rs models.ResultSet
	if err := serialization.Unmarshal(s.codec.Decoder, payload, &rs); err != nil {
		s.logger.Warn("Dropping undecodable result set", zap.String("key", key), zap.Error(err))
		_ = s.Delete(context.Background(), key)
		return nil, false, nil
	}
	return &rs, true, nil
}

func (s *Bolt) Set(_ context.Context, key string, rs *models.ResultSet) error {
	if rs == nil {
		return ErrNilSet
	}
	data, err := serialization.Marshal(s.codec.Encoder, rs)
	if err != nil {
		return fmt.Errorf("failed to encode result set: %w", err)
	}

	buf := make([]byte, expiryPrefixLen+len(data))
	binary.BigEndian.PutUint64(buf[:expiryPrefixLen], uint64(s.now().Add(s.ttl).UnixNano()))
	copy(buf[expiryPrefixLen:], data)

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if err := b.Put([]byte(key), buf); err != nil {
			return err
		}
		return s.trim(b)
	})
}

type boltRow struct {
	key       []byte
	expiresAt uint64
}

// trim drops the rows that expire first until at most limit remain. Every row shares
// one TTL, so the earliest expiry is the oldest write.
func (s *Bolt) trim(b *bbolt.Bucket) error {
	if s.limit <= 0 {
		return nil
	}
	var rows []boltRow
	err := b.ForEach(func(k, v []byte) error {
		var exp uint64
		if len(v) >= expiryPrefixLen {
			exp = binary.BigEndian.Uint64(v[:expiryPrefixLen])
		}
		rows = append(rows, boltRow{key: append([]byte(nil), k...), expiresAt: exp})
		return nil
	})
	if err != nil || len(rows) <= s.limit {
		return err
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].expiresAt < rows[j].expiresAt })
	for _, r := range rows[:len(rows)-s.limit] {
		if err := b.Delete(r.key); err != nil {
			return err
		}
	}
	s.logger.Debug("Trimmed result store", zap.Int("removed", len(rows)-s.limit))
	return nil
}

func (s *Bolt) Delete(_ context.Context, key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(s.bucket).Delete([]byte(key))
	})
}

// Purge removes every expired row and returns how many were dropped.
func (s *Bolt) Purge() (int, error) {
	now := s.now().UnixNano()
	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			if len(v) < expiryPrefixLen || now >= int64(binary.BigEndian.Uint64(v[:expiryPrefixLen])) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

func (s *Bolt) Close() error {
	return s.db.Close()
}
