// Package badger implements store.HeaderStore over an embedded BadgerDB,
// with a read-through LRU cache in front of node lookups.
package badger

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/goodnatureofminers/spvnode/internal/spv/store"
)

const (
	nodePrefix   = "n:"
	heightPrefix = "h:"
	bestKey      = "best"
)

// defaultCacheSize bounds the in-memory node cache; a header node is a few
// hundred bytes, so this caps resident memory in the low tens of MB.
const defaultCacheSize = 100_000

// Store is a BadgerDB-backed store.HeaderStore.
type Store struct {
	db    *badgerdb.DB
	cache *lru.Cache[chainhash.Hash, store.Node]
}

// Config holds the on-disk location for the header database.
type Config struct {
	DataDir   string
	CacheSize int
}

// Open creates or reopens a BadgerDB-backed header store at cfg.DataDir.
func Open(cfg Config) (*Store, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("badger: DataDir is required")
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}

	opts := badgerdb.DefaultOptions(cfg.DataDir)
	opts = opts.WithLogger(nil)

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open: %w", err)
	}

	cache, err := lru.New[chainhash.Hash, store.Node](size)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("badger: new cache: %w", err)
	}

	return &Store{db: db, cache: cache}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunGC reclaims space from deleted/overwritten value-log entries. Intended
// to be called periodically by the owning process.
func (s *Store) RunGC(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badgerdb.ErrNoRewrite) {
		return nil
	}
	return err
}

func encodeNode(n store.Node) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(n); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeNode(raw []byte) (store.Node, error) {
	var n store.Node
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&n); err != nil {
		return store.Node{}, err
	}
	return n, nil
}

func nodeKey(hash chainhash.Hash) []byte {
	return append([]byte(nodePrefix), hash[:]...)
}

func heightKey(h uint32) []byte {
	key := make([]byte, len(heightPrefix)+4)
	copy(key, heightPrefix)
	offset := len(heightPrefix)
	key[offset] = byte(h >> 24)
	key[offset+1] = byte(h >> 16)
	key[offset+2] = byte(h >> 8)
	key[offset+3] = byte(h)
	return key
}

// GetNode implements store.HeaderStore.
func (s *Store) GetNode(hash chainhash.Hash) (store.Node, error) {
	if n, ok := s.cache.Get(hash); ok {
		return n, nil
	}

	var n store.Node
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(nodeKey(hash))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			decoded, err := decodeNode(val)
			if err != nil {
				return err
			}
			n = decoded
			return nil
		})
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return store.Node{}, store.ErrNotFound
	}
	if err != nil {
		return store.Node{}, fmt.Errorf("badger: get node: %w", err)
	}

	s.cache.Add(hash, n)
	return n, nil
}

// PutNode implements store.HeaderStore.
func (s *Store) PutNode(n store.Node) error {
	raw, err := encodeNode(n)
	if err != nil {
		return fmt.Errorf("badger: encode node: %w", err)
	}
	if err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(nodeKey(n.Hash), raw)
	}); err != nil {
		return fmt.Errorf("badger: put node: %w", err)
	}
	s.cache.Add(n.Hash, n)
	return nil
}

// PutHeight implements store.HeaderStore.
func (s *Store) PutHeight(n store.Node) error {
	if err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(heightKey(n.Height), n.Hash[:])
	}); err != nil {
		return fmt.Errorf("badger: put height: %w", err)
	}
	return nil
}

// GetByHeight implements store.HeaderStore.
func (s *Store) GetByHeight(h uint32) (chainhash.Hash, error) {
	var hash chainhash.Hash
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(heightKey(h))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			copy(hash[:], val)
			return nil
		})
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return chainhash.Hash{}, store.ErrNotFound
	}
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("badger: get by height: %w", err)
	}
	return hash, nil
}

// GetBest implements store.HeaderStore.
func (s *Store) GetBest() (store.Node, error) {
	var n store.Node
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(bestKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			decoded, err := decodeNode(val)
			if err != nil {
				return err
			}
			n = decoded
			return nil
		})
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return store.Node{}, store.ErrNotFound
	}
	if err != nil {
		return store.Node{}, fmt.Errorf("badger: get best: %w", err)
	}
	return n, nil
}

// SetBest implements store.HeaderStore.
func (s *Store) SetBest(n store.Node) error {
	raw, err := encodeNode(n)
	if err != nil {
		return fmt.Errorf("badger: encode node: %w", err)
	}
	return s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(bestKey), raw)
	})
}

var _ store.HeaderStore = (*Store)(nil)
