package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/offline-cache/offline-cache/internal/cache"
	"github.com/offline-cache/offline-cache/internal/logging"
	"github.com/offline-cache/offline-cache/internal/upstream"
)

// Source 标识一次响应的来源，同时用作 X-Offline-Cache 头的取值。
type Source string

const (
	SourceCache   Source = "hit"
	SourceNetwork Source = "miss"
	SourceBypass  Source = "bypass"
)

// ErrNetwork 表示缓存未命中且回源失败，是唯一会传递给调用方的错误类别。
var ErrNetwork = errors.New("network request failed")

// ServingStore 提供当前对外服务的仓库，通常由 generation.Manager 实现。
type ServingStore interface {
	Serving() (cache.Store, bool)
}

// Result 是拦截结果：响应快照及其来源。
type Result struct {
	Snapshot *cache.Snapshot
	Source   Source
	Store    string
}

// Interceptor 对每个请求执行“缓存优先，未命中回源并顺带写缓存”的决策。
type Interceptor struct {
	stores  ServingStore
	fetcher upstream.Fetcher
	logger  *logrus.Logger

	pending sync.WaitGroup
}

// NewInterceptor constructs an interceptor over the serving store and network fetcher.
func NewInterceptor(stores ServingStore, fetcher upstream.Fetcher, logger *logrus.Logger) *Interceptor {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Interceptor{
		stores:  stores,
		fetcher: fetcher,
		logger:  logger,
	}
}

// IsCacheable 只有 GET 参与缓存，其余方法（包括 HEAD）直接透传。
func IsCacheable(method string) bool {
	return method == "" || method == http.MethodGet
}

// bypassesCache 判断请求是否绕过缓存：非 GET，或带 Range/If-Range 的部分请求。
// 缓存键只含方法与 URL，部分内容不能以它为键读写。
func bypassesCache(req upstream.Request) bool {
	if !IsCacheable(req.Method) {
		return true
	}
	return req.Header.Get("Range") != "" || req.Header.Get("If-Range") != ""
}

// storable 只有完整的 2xx 响应才写入缓存：206 是部分内容，
// 带 Content-Encoding 的正文无法按客户端的 Accept-Encoding 重新协商。
func storable(snap *cache.Snapshot) bool {
	if !snap.OK() || snap.Status == http.StatusPartialContent {
		return false
	}
	encoding := snap.Header.Get("Content-Encoding")
	return encoding == "" || strings.EqualFold(encoding, "identity")
}

// identityRequest 去掉客户端的 Accept-Encoding，由 http.Transport 自行协商 gzip 并解压，
// 缓存中保存的始终是未压缩正文。
func identityRequest(req upstream.Request) upstream.Request {
	if req.Header.Get("Accept-Encoding") == "" {
		return req
	}
	req.Header = req.Header.Clone()
	req.Header.Del("Accept-Encoding")
	return req
}

// Handle 处理一个被拦截的请求：
//   - 非 GET 或带 Range：原样回源，不读不写缓存；
//   - 命中：直接返回缓存快照，不访问网络；
//   - 未命中：回源；完整的 2xx 响应复制一份异步写入当前仓库，其余原样返回但不缓存；
//   - 回源失败：返回包装了 ErrNetwork 的错误。
//
// 仓库读取失败一律按未命中处理。
func (i *Interceptor) Handle(ctx context.Context, req upstream.Request) (*Result, error) {
	if bypassesCache(req) {
		snap, err := i.fetcher.Fetch(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
		}
		return &Result{Snapshot: snap, Source: SourceBypass}, nil
	}

	key := req.Key()
	store, ok := i.stores.Serving()
	storeName := ""
	if ok {
		storeName = store.Name()
		snap, err := store.Get(ctx, key)
		switch {
		case err == nil:
			return &Result{Snapshot: snap, Source: SourceCache, Store: storeName}, nil
		case cache.IsMiss(err):
			// miss, continue
		default:
			i.logger.WithFields(logging.RequestFields(key.Method, key.URL, storeName, string(SourceNetwork))).
				WithError(err).Warn("cache_lookup_degraded")
		}
	}

	snap, err := i.fetcher.Fetch(ctx, identityRequest(req))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	if ok && storable(snap) {
		i.populate(ctx, store, key, snap.Clone())
	}
	return &Result{Snapshot: snap, Source: SourceNetwork, Store: storeName}, nil
}

// Wait 阻塞直到已调度的缓存写入全部结束，用于优雅退出与测试。
func (i *Interceptor) Wait() {
	i.pending.Wait()
}

// populate 在调用方关键路径之外写入缓存。写入使用脱离请求取消的 ctx：
// 响应字节已经读完，写入不再依赖调用方是否继续等待。失败只记录日志。
func (i *Interceptor) populate(ctx context.Context, store cache.Store, key cache.RequestKey, snap *cache.Snapshot) {
	i.pending.Add(1)
	go func() {
		defer i.pending.Done()
		started := time.Now()
		err := store.Put(context.WithoutCancel(ctx), key, snap)
		fields := logging.RequestFields(key.Method, key.URL, store.Name(), string(SourceNetwork))
		fields["action"] = "populate"
		fields["elapsed_ms"] = time.Since(started).Milliseconds()
		if err != nil {
			i.logger.WithFields(fields).WithError(err).Warn("cache_populate_failed")
			return
		}
		i.logger.WithFields(fields).Debug("cache_populated")
	}()
}
