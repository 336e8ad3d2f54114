package pricecache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/mcintyre94/jupalyse/internal/domain"
)

const (
	DefaultDir = "./wal/prices"

	segmentLimit = 1000
	// segments are never rotated away: a dropped segment would lose prices.
	maxSegments = 1 << 20

	priceKeyPrefix = "price_"
)

type walRecord struct {
	Mint   string `json:"mint"`
	Bucket int64  `json:"bucket"`
	Value  string `json:"value"`
}

// WALStore persists cache entries in a write-ahead log and serves reads from
// memory. The log is replayed on open.
type WALStore struct {
	wal   *gowal.Wal
	mu    sync.Mutex
	index *Memory
}

// NewWALStore opens (or creates) the WAL in dir and loads existing entries.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = DefaultDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "prices_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init price WAL")
	}

	s := &WALStore{wal: wal, index: NewMemory()}
	if err := s.replay(); err != nil {
		_ = wal.Close()
		return nil, err
	}

	return s, nil
}

func (s *WALStore) replay() error {
	for msg := range s.wal.Iterator() {
		if !strings.HasPrefix(msg.Key, priceKeyPrefix) {
			continue
		}

		var rec walRecord
		if err := json.Unmarshal(msg.Value, &rec); err != nil {
			return errors.Wrapf(err, "decode WAL record %s", msg.Key)
		}
		entry, err := decodeEntry(rec.Value)
		if err != nil {
			return err
		}
		s.index.setIfAbsent(domain.PriceKey{Mint: rec.Mint, Bucket: rec.Bucket}, entry)
	}

	return nil
}

func (s *WALStore) Get(ctx context.Context, key domain.PriceKey) (Entry, bool, error) {
	if s == nil || s.wal == nil {
		return Entry{}, false, errors.New("price store is not initialized")
	}
	return s.index.Get(ctx, key)
}

func (s *WALStore) Has(ctx context.Context, key domain.PriceKey) (bool, error) {
	if s == nil || s.wal == nil {
		return false, errors.New("price store is not initialized")
	}
	return s.index.Has(ctx, key)
}

// Set appends the entry to the log. Keys already present are left untouched.
func (s *WALStore) Set(_ context.Context, key domain.PriceKey, entry Entry) error {
	if s == nil || s.wal == nil {
		return errors.New("price store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ok, _ := s.index.Has(context.Background(), key); ok {
		return nil
	}

	payload, err := json.Marshal(walRecord{Mint: key.Mint, Bucket: key.Bucket, Value: encodeEntry(entry)})
	if err != nil {
		return errors.Wrap(err, "marshal price record")
	}

	nextIndex := s.wal.CurrentIndex() + 1
	if err := s.wal.Write(nextIndex, fmt.Sprintf("%s%s", priceKeyPrefix, key), payload); err != nil {
		return errors.Wrapf(err, "write price %s", key)
	}
	s.index.setIfAbsent(key, entry)

	return nil
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("price store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
