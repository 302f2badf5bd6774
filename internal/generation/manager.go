package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/offline-cache/offline-cache/internal/cache"
	"github.com/offline-cache/offline-cache/internal/logging"
	"github.com/offline-cache/offline-cache/internal/upstream"
)

// State 是代际状态机的取值。
type State string

const (
	StateUninstalled State = "uninstalled"
	StateInstalling  State = "installing"
	StateInstalled   State = "installed"
	StateActive      State = "active"
)

// markerMethod 标记“预热已完整完成”的保留条目，拦截器只查询 GET，不会命中它。
const markerMethod = "X-OFFLINE-CACHE-INSTALLED"

// Options 控制 Manager 的命名与预热行为。
type Options struct {
	Generation  string
	StorePrefix string
	// Concurrency 为预热时的最大并发拉取数，<=0 时按 1 处理。
	Concurrency int
	// Rate 为预热时每秒最多发起的拉取数，0 表示不限速。
	Rate float64
	// StrictStatus 为 true 时，清单资源返回非 2xx 也视为预热失败。
	StrictStatus bool
	Logger       *logrus.Logger
}

// Manager 维护当前代际的仓库，并负责预热、激活与旧代际清理。
type Manager struct {
	registry    cache.Registry
	fetcher     upstream.Fetcher
	logger      *logrus.Logger
	generation  string
	storeName   string
	concurrency int
	limiter     *rate.Limiter
	strict      bool

	mu      sync.RWMutex
	state   State
	current cache.Store
	serving cache.Store
}

// StoreName 由前缀与代际标识拼出仓库名，例如 offline-cache-v3。
func StoreName(prefix, generation string) string {
	if prefix == "" {
		return generation
	}
	return prefix + "-" + generation
}

// New 构造处于 Uninstalled 状态的 Manager。
func New(registry cache.Registry, fetcher upstream.Fetcher, opts Options) (*Manager, error) {
	if registry == nil {
		return nil, errors.New("cache registry is required")
	}
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.Generation == "" {
		return nil, errors.New("generation id is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	var limiter *rate.Limiter
	if opts.Rate > 0 {
		burst := int(opts.Rate)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.Rate), burst)
	}

	return &Manager{
		registry:    registry,
		fetcher:     fetcher,
		logger:      logger,
		generation:  opts.Generation,
		storeName:   StoreName(opts.StorePrefix, opts.Generation),
		concurrency: concurrency,
		limiter:     limiter,
		strict:      opts.StrictStatus,
		state:       StateUninstalled,
	}, nil
}

// Generation 返回构建时注入的代际标识。
func (m *Manager) Generation() string {
	return m.generation
}

// StoreName 返回当前代际对应的仓库名。
func (m *Manager) StoreName() string {
	return m.storeName
}

// State 返回当前状态。
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Serving 返回当前对外提供服务的仓库；尚无可用仓库时返回 false。
// 新代际激活之前，上一代仓库（若存在）继续提供服务。
func (m *Manager) Serving() (cache.Store, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.serving, m.serving != nil
}

// Resume 根据 Registry 中已有的仓库恢复进程重启前的状态：
//   - 当前代际仓库已完整预热且是唯一仓库 ⇒ Active；
//   - 当前代际仓库已完整预热但仍有旧仓库 ⇒ Installed，等待激活；
//   - 当前代际仓库不完整 ⇒ 丢弃，保持 Uninstalled。
//
// 未激活时若恰好存在一个旧仓库，它作为上一代继续提供服务。
func (m *Manager) Resume(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateUninstalled {
		return nil
	}

	names, err := m.registry.List(ctx)
	if err != nil {
		return fmt.Errorf("list stores: %w", err)
	}

	var others []string
	hasCurrent := false
	for _, name := range names {
		if name == m.storeName {
			hasCurrent = true
			continue
		}
		others = append(others, name)
	}

	fields := logging.GenerationFields("resume", m.generation, m.storeName)
	fields["stores"] = names

	if hasCurrent {
		store, err := m.registry.Open(ctx, m.storeName)
		if err != nil {
			return fmt.Errorf("open store %s: %w", m.storeName, err)
		}
		if m.isWarmed(ctx, store) {
			m.current = store
			if len(others) == 0 {
				m.state = StateActive
				m.serving = store
				m.logger.WithFields(fields).Info("generation_resumed_active")
				return nil
			}
			m.state = StateInstalled
		} else if err := m.registry.Delete(ctx, m.storeName); err != nil {
			m.logger.WithFields(fields).WithError(err).Warn("discard_partial_store_failed")
		} else {
			m.logger.WithFields(fields).Info("partial_store_discarded")
		}
	}

	if len(others) == 1 {
		predecessor, err := m.registry.Open(ctx, others[0])
		if err != nil {
			return fmt.Errorf("open store %s: %w", others[0], err)
		}
		m.serving = predecessor
		fields["serving"] = others[0]
	}
	fields["state"] = m.state
	m.logger.WithFields(fields).Info("generation_resumed")
	return nil
}

// Install 打开（或创建）当前代际仓库，并从网络拉取清单中的每个资源写入其中。
// 这是一个全有或全无的批次：任一资源失败，仓库被丢弃，状态回到 Uninstalled，
// 正在服务的上一代不受影响。已 Installed/Active 时为空操作。
func (m *Manager) Install(ctx context.Context, manifest []cache.RequestKey) error {
	m.mu.Lock()
	switch m.state {
	case StateInstalling:
		m.mu.Unlock()
		return ErrInstallInProgress
	case StateInstalled, StateActive:
		m.mu.Unlock()
		return nil
	}
	m.state = StateInstalling
	m.mu.Unlock()

	started := time.Now()
	fields := logging.GenerationFields("install", m.generation, m.storeName)
	manifest = dedupeManifest(manifest)
	fields["resources"] = len(manifest)

	store, err := m.registry.Open(ctx, m.storeName)
	if err == nil {
		m.mu.Lock()
		m.current = store
		m.mu.Unlock()
		err = m.warm(ctx, store, manifest)
	}
	if err == nil {
		err = store.Put(ctx, m.marker(), &cache.Snapshot{Status: http.StatusOK, StoredAt: time.Now().UTC()})
	}

	if err != nil {
		m.discard(ctx, fields)
		m.mu.Lock()
		m.state = StateUninstalled
		m.current = nil
		m.mu.Unlock()
		fields["elapsed_ms"] = time.Since(started).Milliseconds()
		m.logger.WithFields(fields).WithError(err).Warn("install_failed")
		return err
	}

	m.mu.Lock()
	m.state = StateInstalled
	m.mu.Unlock()
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	m.logger.WithFields(fields).Info("install_completed")
	return nil
}

// Activate 删除 Registry 中除当前代际外的所有仓库，然后让当前代际开始服务。
// 删除失败只记录日志，不阻塞激活；遗留仓库会在下一次激活时再次尝试删除。
// 重复调用是幂等的。尚未 Installed 时返回 ErrNotInstalled 且不删除任何仓库。
func (m *Manager) Activate(ctx context.Context) error {
	return m.activate(ctx, "activate")
}

// ForceActivate 跳过“等待自然交接”的策略立即激活，供控制通道调用。
func (m *Manager) ForceActivate(ctx context.Context) error {
	return m.activate(ctx, "force_activate")
}

func (m *Manager) activate(ctx context.Context, action string) error {
	fields := logging.GenerationFields(action, m.generation, m.storeName)

	m.mu.RLock()
	state := m.state
	m.mu.RUnlock()
	if state != StateInstalled && state != StateActive {
		fields["state"] = state
		m.logger.WithFields(fields).Warn("activate_rejected")
		return ErrNotInstalled
	}

	deleted := m.sweep(ctx, fields)

	m.mu.Lock()
	if m.state == StateInstalled || m.state == StateActive {
		m.state = StateActive
		m.serving = m.current
	}
	m.mu.Unlock()

	fields["deleted"] = deleted
	m.logger.WithFields(fields).Info("generation_active")
	return nil
}

// sweep 并发删除所有非当前代际仓库，等待全部删除完成后返回成功删除的仓库名。
func (m *Manager) sweep(ctx context.Context, fields logrus.Fields) []string {
	names, err := m.registry.List(ctx)
	if err != nil {
		m.logger.WithFields(fields).WithError(err).Warn("list_stores_failed")
		return nil
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		deleted []string
	)
	for _, name := range names {
		if name == m.storeName {
			continue
		}
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := m.registry.Delete(ctx, name); err != nil {
				m.logger.WithFields(fields).WithField("stale_store", name).WithError(err).Warn("delete_stale_store_failed")
				return
			}
			mu.Lock()
			deleted = append(deleted, name)
			mu.Unlock()
		}(name)
	}
	wg.Wait()
	return deleted
}

// warm 以有限并发拉取清单资源；第一处失败即取消其余拉取。
func (m *Manager) warm(ctx context.Context, store cache.Store, manifest []cache.RequestKey) error {
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(m.concurrency)

	for _, key := range manifest {
		key := key
		group.Go(func() error {
			if m.limiter != nil {
				if err := m.limiter.Wait(gctx); err != nil {
					return &InstallError{Generation: m.generation, Key: key, Err: err}
				}
			}
			snap, err := m.fetcher.Fetch(gctx, upstream.Request{Method: key.Method, URL: key.URL})
			if err != nil {
				return &InstallError{Generation: m.generation, Key: key, Err: err}
			}
			if m.strict && !snap.OK() {
				return &InstallError{Generation: m.generation, Key: key, Status: snap.Status}
			}
			if err := store.Put(gctx, key, snap); err != nil {
				return &InstallError{Generation: m.generation, Key: key, Err: fmt.Errorf("write: %w", err)}
			}
			return nil
		})
	}
	return group.Wait()
}

// discard 删除预热失败的仓库，避免后续把它当作完整预热的结果。
func (m *Manager) discard(ctx context.Context, fields logrus.Fields) {
	if err := m.registry.Delete(context.WithoutCancel(ctx), m.storeName); err != nil {
		m.logger.WithFields(fields).WithError(err).Warn("discard_failed_store_failed")
	}
}

func (m *Manager) marker() cache.RequestKey {
	return cache.RequestKey{Method: markerMethod, URL: "generation:" + m.generation}
}

func (m *Manager) isWarmed(ctx context.Context, store cache.Store) bool {
	_, err := store.Get(ctx, m.marker())
	return err == nil
}

func dedupeManifest(manifest []cache.RequestKey) []cache.RequestKey {
	seen := make(map[cache.RequestKey]struct{}, len(manifest))
	out := make([]cache.RequestKey, 0, len(manifest))
	for _, key := range manifest {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}
