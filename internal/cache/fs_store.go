package cache

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const (
	entrySuffix = ".entry"
	// storeMarker 标记由 Registry 创建的仓库目录，StoragePath 下的其他目录不属于 Registry。
	storeMarker = ".store"
)

// NewFSRegistry 以 basePath 为根目录构建磁盘缓存，每个仓库占用一个子目录：
//
//	<StoragePath>/<StoreName>/.store
//	<StoragePath>/<StoreName>/<sha1(method url)>.entry
func NewFSRegistry(basePath string) (Registry, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fsRegistry{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fsRegistry 用 lifecycle 读写锁串行化“删除仓库”与“写入条目”，
// 保证仓库被删除后不会因迟到的写入而复活；entryLock 避免同一条目并发写入。
type fsRegistry struct {
	basePath string

	lifecycle sync.RWMutex

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

type fsStore struct {
	registry *fsRegistry
	name     string
	dir      string
}

func (r *fsRegistry) Open(ctx context.Context, name string) (Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateStoreName(name); err != nil {
		return nil, err
	}

	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	dir := filepath.Join(r.basePath, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store %s: %w", name, err)
	}
	if err := os.WriteFile(filepath.Join(dir, storeMarker), []byte(name), 0o644); err != nil {
		return nil, fmt.Errorf("mark store %s: %w", name, err)
	}
	return &fsStore{registry: r, name: name, dir: dir}, nil
}

func (r *fsRegistry) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(r.basePath)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if !r.isStore(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (r *fsRegistry) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateStoreName(name); err != nil {
		return err
	}

	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	if !r.isStore(name) {
		return nil
	}
	return os.RemoveAll(filepath.Join(r.basePath, name))
}

// isStore 只有带 .store 标记的目录才是仓库。
func (r *fsRegistry) isStore(name string) bool {
	info, err := os.Stat(filepath.Join(r.basePath, name, storeMarker))
	return err == nil && !info.IsDir()
}

func (r *fsRegistry) Close() error {
	return nil
}

func (s *fsStore) Name() string {
	return s.name
}

func (s *fsStore) Get(ctx context.Context, key RequestKey) (*Snapshot, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	filePath := s.entryPath(key)
	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, s.missError()
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	raw, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, s.missError()
		}
		return nil, err
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		return nil, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	if rec.Key != key {
		return nil, ErrNotFound
	}
	return rec.snapshot(), nil
}

func (s *fsStore) Put(ctx context.Context, key RequestKey, snap *Snapshot) error {
	if snap == nil {
		return errors.New("nil snapshot")
	}
	payload, err := encodeRecord(key, snap)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", key, err)
	}

	s.registry.lifecycle.RLock()
	defer s.registry.lifecycle.RUnlock()

	if _, err := os.Stat(filepath.Join(s.dir, storeMarker)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrStoreNotFound
		}
		return err
	}

	unlock := s.registry.lockEntry(s.name, key)
	defer unlock()

	tempFile, err := os.CreateTemp(s.dir, ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = copyWithContext(ctx, tempFile, bytes.NewReader(payload))
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, s.entryPath(key)); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func (s *fsStore) Keys(ctx context.Context) ([]RequestKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrStoreNotFound
		}
		return nil, err
	}

	keys := make([]RequestKey, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, entrySuffix) {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			continue
		}
		keys = append(keys, rec.Key)
	}
	return keys, nil
}

// missError 区分“条目不存在”与“整个仓库已被删除”。
func (s *fsStore) missError() error {
	if !s.registry.isStore(s.name) {
		return ErrStoreNotFound
	}
	return ErrNotFound
}

func (s *fsStore) entryPath(key RequestKey) string {
	sum := sha1.Sum([]byte(key.String()))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:])+entrySuffix)
}

func (r *fsRegistry) lockEntry(storeName string, key RequestKey) func() {
	lockKey := storeName + "::" + key.String()
	r.mu.Lock()
	lock := r.locks[lockKey]
	if lock == nil {
		lock = &entryLock{}
		r.locks[lockKey] = lock
	}
	lock.refs++
	r.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		r.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(r.locks, lockKey)
		}
		r.mu.Unlock()
	}
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
