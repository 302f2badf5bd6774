package generation

import (
	"context"
	"errors"

	"github.com/offline-cache/offline-cache/internal/cache"
)

// Status 汇总当前代际的可观测状态，只读，不修改任何仓库。
type Status struct {
	Generation   string   `json:"generation"`
	State        State    `json:"state"`
	StoreName    string   `json:"storeName"`
	ServingStore string   `json:"servingStore,omitempty"`
	EntryCount   int      `json:"entryCount"`
	Stores       []string `json:"stores"`
}

// EntryCount 列出当前代际仓库的条目并计数，不包含内部保留条目。
// 仓库尚未创建或已被删除时返回 0。
func (m *Manager) EntryCount(ctx context.Context) (int, error) {
	m.mu.RLock()
	store := m.current
	m.mu.RUnlock()
	if store == nil {
		return 0, nil
	}

	keys, err := store.Keys(ctx)
	if err != nil {
		if errors.Is(err, cache.ErrStoreNotFound) {
			return 0, nil
		}
		return 0, err
	}
	count := 0
	for _, key := range keys {
		if key.Method == markerMethod {
			continue
		}
		count++
	}
	return count, nil
}

// Status 返回代际状态、仓库条目数与 Registry 中全部仓库名。
func (m *Manager) Status(ctx context.Context) (Status, error) {
	count, err := m.EntryCount(ctx)
	if err != nil {
		return Status{}, err
	}
	names, err := m.registry.List(ctx)
	if err != nil {
		return Status{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	status := Status{
		Generation: m.generation,
		State:      m.state,
		StoreName:  m.storeName,
		EntryCount: count,
		Stores:     names,
	}
	if m.serving != nil {
		status.ServingStore = m.serving.Name()
	}
	return status, nil
}
