package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"
)

func TestStorePutAndGet(t *testing.T) {
	forEachDriver(t, func(t *testing.T, registry Registry) {
		ctx := context.Background()
		store := openStore(t, registry, "offline-cache-v1")
		key := NewRequestKey("get", "https://app.local/app.js")

		storedAt := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
		snap := &Snapshot{
			Status:   http.StatusOK,
			Header:   http.Header{"Content-Type": []string{"application/javascript"}},
			Body:     []byte("console.log('ok')"),
			StoredAt: storedAt,
		}
		if err := store.Put(ctx, key, snap); err != nil {
			t.Fatalf("put error: %v", err)
		}

		got, err := store.Get(ctx, key)
		if err != nil {
			t.Fatalf("get error: %v", err)
		}
		if string(got.Body) != string(snap.Body) {
			t.Fatalf("cached payload mismatch: %s", string(got.Body))
		}
		if got.Status != http.StatusOK || !got.OK() {
			t.Fatalf("status mismatch: %d", got.Status)
		}
		if got.Header.Get("Content-Type") != "application/javascript" {
			t.Fatalf("header mismatch: %v", got.Header)
		}
		if !got.StoredAt.Equal(storedAt) {
			t.Fatalf("storedAt mismatch: expected %v got %v", storedAt, got.StoredAt)
		}
	})
}

func TestStoreGetMissing(t *testing.T) {
	forEachDriver(t, func(t *testing.T, registry Registry) {
		store := openStore(t, registry, "offline-cache-v1")
		_, err := store.Get(context.Background(), NewRequestKey("GET", "https://app.local/missing"))
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestStoreKeysAreScopedPerStore(t *testing.T) {
	forEachDriver(t, func(t *testing.T, registry Registry) {
		ctx := context.Background()
		current := openStore(t, registry, "offline-cache-v2")
		other := openStore(t, registry, "offline-cache-v1")

		for _, path := range []string{"/", "/app.js", "/styles.css"} {
			putOK(t, current, NewRequestKey("GET", "https://app.local"+path))
		}
		putOK(t, other, NewRequestKey("GET", "https://app.local/old.js"))

		keys, err := current.Keys(ctx)
		if err != nil {
			t.Fatalf("keys error: %v", err)
		}
		if len(keys) != 3 {
			t.Fatalf("expected 3 keys, got %v", keys)
		}
		urls := make([]string, 0, len(keys))
		for _, k := range keys {
			if k.Method != http.MethodGet {
				t.Fatalf("unexpected method %s", k.Method)
			}
			urls = append(urls, k.URL)
		}
		sort.Strings(urls)
		if urls[0] != "https://app.local/" || urls[2] != "https://app.local/styles.css" {
			t.Fatalf("unexpected urls %v", urls)
		}
	})
}

func TestRegistryListAndDelete(t *testing.T) {
	forEachDriver(t, func(t *testing.T, registry Registry) {
		ctx := context.Background()
		for _, name := range []string{"offline-cache-v3", "offline-cache-v1", "offline-cache-v2"} {
			openStore(t, registry, name)
		}

		names, err := registry.List(ctx)
		if err != nil {
			t.Fatalf("list error: %v", err)
		}
		if fmt.Sprint(names) != "[offline-cache-v1 offline-cache-v2 offline-cache-v3]" {
			t.Fatalf("unexpected names %v", names)
		}

		if err := registry.Delete(ctx, "offline-cache-v2"); err != nil {
			t.Fatalf("delete error: %v", err)
		}
		if err := registry.Delete(ctx, "never-created"); err != nil {
			t.Fatalf("deleting a missing store should succeed, got %v", err)
		}

		names, err = registry.List(ctx)
		if err != nil {
			t.Fatalf("list error: %v", err)
		}
		if fmt.Sprint(names) != "[offline-cache-v1 offline-cache-v3]" {
			t.Fatalf("unexpected names after delete %v", names)
		}
	})
}

func TestDeletedStoreIsNotResurrectedByWrites(t *testing.T) {
	forEachDriver(t, func(t *testing.T, registry Registry) {
		ctx := context.Background()
		store := openStore(t, registry, "offline-cache-v1")
		key := NewRequestKey("GET", "https://app.local/")
		putOK(t, store, key)

		if err := registry.Delete(ctx, "offline-cache-v1"); err != nil {
			t.Fatalf("delete error: %v", err)
		}

		if _, err := store.Get(ctx, key); !IsMiss(err) {
			t.Fatalf("read after delete should be a miss, got %v", err)
		}
		if err := store.Put(ctx, key, &Snapshot{Status: http.StatusOK}); !errors.Is(err, ErrStoreNotFound) {
			t.Fatalf("expected ErrStoreNotFound on write, got %v", err)
		}
		if _, err := store.Keys(ctx); !errors.Is(err, ErrStoreNotFound) {
			t.Fatalf("expected ErrStoreNotFound on keys, got %v", err)
		}

		names, err := registry.List(ctx)
		if err != nil {
			t.Fatalf("list error: %v", err)
		}
		if len(names) != 0 {
			t.Fatalf("deleted store should stay deleted, got %v", names)
		}
	})
}

func TestStoreConcurrentWritesLastWins(t *testing.T) {
	forEachDriver(t, func(t *testing.T, registry Registry) {
		ctx := context.Background()
		store := openStore(t, registry, "offline-cache-v1")
		key := NewRequestKey("GET", "https://app.local/race")

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				body := []byte(fmt.Sprintf("body-%d", i))
				if err := store.Put(ctx, key, &Snapshot{Status: http.StatusOK, Body: body}); err != nil {
					t.Errorf("put error: %v", err)
				}
			}(i)
		}
		wg.Wait()

		got, err := store.Get(ctx, key)
		if err != nil {
			t.Fatalf("get error: %v", err)
		}
		if len(got.Body) == 0 {
			t.Fatalf("expected one complete body to win")
		}
		keys, err := store.Keys(ctx)
		if err != nil {
			t.Fatalf("keys error: %v", err)
		}
		if len(keys) != 1 {
			t.Fatalf("expected a single entry, got %d", len(keys))
		}
	})
}

func TestFSStoreIgnoresDirectories(t *testing.T) {
	registry, err := NewFSRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("registry error: %v", err)
	}
	store := openStore(t, registry, "offline-cache-v1")
	key := NewRequestKey("GET", "https://app.local/v2")

	fsStore, ok := store.(*fsStore)
	if !ok {
		t.Fatalf("unexpected store type %T", store)
	}
	if err := os.MkdirAll(fsStore.entryPath(key), 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}

	if _, err := store.Get(context.Background(), key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for directory, got %v", err)
	}
}

func TestFSRegistryLeavesForeignDirectories(t *testing.T) {
	base := t.TempDir()
	registry, err := NewFSRegistry(base)
	if err != nil {
		t.Fatalf("registry error: %v", err)
	}
	logs := filepath.Join(base, "logs")
	if err := os.MkdirAll(logs, 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(logs, "offline-cache.log"), []byte("line"), 0o644); err != nil {
		t.Fatalf("write error: %v", err)
	}
	openStore(t, registry, "offline-cache-v1")

	ctx := context.Background()
	names, err := registry.List(ctx)
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if fmt.Sprint(names) != "[offline-cache-v1]" {
		t.Fatalf("only marked stores should be listed, got %v", names)
	}

	if err := registry.Delete(ctx, "logs"); err != nil {
		t.Fatalf("delete error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(logs, "offline-cache.log")); err != nil {
		t.Fatalf("foreign directory must survive delete: %v", err)
	}
}

func TestRegistryRejectsInvalidNames(t *testing.T) {
	forEachDriver(t, func(t *testing.T, registry Registry) {
		for _, name := range []string{"", "..", "a/b", `a\b`} {
			if _, err := registry.Open(context.Background(), name); !errors.Is(err, ErrInvalidStoreName) {
				t.Fatalf("expected ErrInvalidStoreName for %q, got %v", name, err)
			}
		}
	})
}

func TestSnapshotCloneIsIndependent(t *testing.T) {
	orig := &Snapshot{
		Status: http.StatusOK,
		Header: http.Header{"Etag": []string{"abc"}},
		Body:   []byte("hello"),
	}
	clone := orig.Clone()
	clone.Body[0] = 'j'
	clone.Header.Set("Etag", "xyz")

	if string(orig.Body) != "hello" {
		t.Fatalf("clone must not share body bytes, got %s", orig.Body)
	}
	if orig.Header.Get("Etag") != "abc" {
		t.Fatalf("clone must not share headers")
	}
	if (&Snapshot{Status: 404}).OK() || (&Snapshot{Status: 302}).OK() {
		t.Fatalf("only 2xx statuses are ok")
	}
}

func TestNewRegistryRejectsUnknownDriver(t *testing.T) {
	if _, err := NewRegistry("sqlite", t.TempDir()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

// forEachDriver runs fn against every registry backend.
func forEachDriver(t *testing.T, fn func(t *testing.T, registry Registry)) {
	t.Helper()
	for _, driver := range []string{DriverFS, DriverLevelDB} {
		t.Run(driver, func(t *testing.T) {
			registry, err := NewRegistry(driver, t.TempDir())
			if err != nil {
				t.Fatalf("failed to create %s registry: %v", driver, err)
			}
			t.Cleanup(func() { registry.Close() })
			fn(t, registry)
		})
	}
}

func openStore(t *testing.T, registry Registry, name string) Store {
	t.Helper()
	store, err := registry.Open(context.Background(), name)
	if err != nil {
		t.Fatalf("open %s: %v", name, err)
	}
	return store
}

func putOK(t *testing.T, store Store, key RequestKey) {
	t.Helper()
	snap := &Snapshot{Status: http.StatusOK, Header: http.Header{}, Body: []byte(key.URL)}
	if err := store.Put(context.Background(), key, snap); err != nil {
		t.Fatalf("put %s: %v", key, err)
	}
}
