package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB 键布局：
//
//	s:<store>                  -> 仓库标记（创建时间，unix 秒）
//	e:<store>\x00<method> <url> -> gob 编码的 record
const (
	storeMarkerPrefix = "s:"
	entryPrefix       = "e:"
	entrySeparator    = "\x00"
)

// NewLevelDBRegistry 在 <basePath>/leveldb 打开单个数据库，所有仓库以键前缀区分。
func NewLevelDBRegistry(basePath string) (Registry, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}
	dir := filepath.Join(basePath, "leveldb")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return &levelRegistry{db: db}, nil
}

type levelRegistry struct {
	db *leveldb.DB

	// lifecycle 与 fsRegistry 相同：Delete 独占，Put 共享。
	lifecycle sync.RWMutex
}

type levelStore struct {
	registry *levelRegistry
	name     string
}

func (r *levelRegistry) Open(ctx context.Context, name string) (Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateStoreName(name); err != nil {
		return nil, err
	}

	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	marker := markerKey(name)
	exists, err := r.db.Has(marker, nil)
	if err != nil {
		return nil, err
	}
	if !exists {
		created := strconv.FormatInt(time.Now().Unix(), 10)
		if err := r.db.Put(marker, []byte(created), nil); err != nil {
			return nil, fmt.Errorf("create store %s: %w", name, err)
		}
	}
	return &levelStore{registry: r, name: name}, nil
}

func (r *levelRegistry) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	it := r.db.NewIterator(util.BytesPrefix([]byte(storeMarkerPrefix)), nil)
	defer it.Release()

	var names []string
	for it.Next() {
		names = append(names, strings.TrimPrefix(string(it.Key()), storeMarkerPrefix))
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return names, nil
}

func (r *levelRegistry) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateStoreName(name); err != nil {
		return err
	}

	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	batch := new(leveldb.Batch)
	batch.Delete(markerKey(name))

	it := r.db.NewIterator(util.BytesPrefix(entryStorePrefix(name)), nil)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return err
	}
	return r.db.Write(batch, nil)
}

func (r *levelRegistry) Close() error {
	return r.db.Close()
}

func (s *levelStore) Name() string {
	return s.name
}

func (s *levelStore) Get(ctx context.Context, key RequestKey) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := s.registry.db.Get(entryKey(s.name, key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			if ok, hasErr := s.registry.db.Has(markerKey(s.name), nil); hasErr == nil && !ok {
				return nil, ErrStoreNotFound
			}
			return nil, ErrNotFound
		}
		return nil, err
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		return nil, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	return rec.snapshot(), nil
}

func (s *levelStore) Put(ctx context.Context, key RequestKey, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snap == nil {
		return errors.New("nil snapshot")
	}
	payload, err := encodeRecord(key, snap)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", key, err)
	}

	s.registry.lifecycle.RLock()
	defer s.registry.lifecycle.RUnlock()

	exists, err := s.registry.db.Has(markerKey(s.name), nil)
	if err != nil {
		return err
	}
	if !exists {
		return ErrStoreNotFound
	}
	return s.registry.db.Put(entryKey(s.name, key), payload, nil)
}

func (s *levelStore) Keys(ctx context.Context) ([]RequestKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	exists, err := s.registry.db.Has(markerKey(s.name), nil)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrStoreNotFound
	}

	prefix := entryStorePrefix(s.name)
	it := s.registry.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()

	var keys []RequestKey
	for it.Next() {
		raw := strings.TrimPrefix(string(it.Key()), string(prefix))
		method, url, ok := strings.Cut(raw, " ")
		if !ok {
			continue
		}
		keys = append(keys, RequestKey{Method: method, URL: url})
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return keys, nil
}

func markerKey(name string) []byte {
	return []byte(storeMarkerPrefix + name)
}

func entryStorePrefix(name string) []byte {
	return []byte(entryPrefix + name + entrySeparator)
}

func entryKey(name string, key RequestKey) []byte {
	return append(entryStorePrefix(name), key.String()...)
}
