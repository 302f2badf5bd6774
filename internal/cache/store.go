package cache

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Registry 负责枚举、创建与删除命名缓存仓库。每个仓库对应一个缓存代际。
type Registry interface {
	// Open 打开名为 name 的仓库，不存在时创建空仓库。
	Open(ctx context.Context, name string) (Store, error)

	// List 返回当前存在的全部仓库名（按名称排序）。
	List(ctx context.Context) ([]string, error)

	// Delete 删除整个仓库及其全部条目；仓库不存在时视为成功。
	Delete(ctx context.Context, name string) error

	// Close 释放底层资源。
	Close() error
}

// Store 是单个命名仓库的读写句柄。条目只追加，不做单条失效。
type Store interface {
	Name() string

	// Get 返回缓存快照；不存在返回 ErrNotFound，仓库已被删除返回 ErrStoreNotFound。
	Get(ctx context.Context, key RequestKey) (*Snapshot, error)

	// Put 写入快照，同一 key 后写覆盖先写。仓库已被删除时返回 ErrStoreNotFound，且不会重建仓库。
	Put(ctx context.Context, key RequestKey, snap *Snapshot) error

	// Keys 列出仓库内全部条目的 RequestKey。
	Keys(ctx context.Context) ([]RequestKey, error)
}

// RequestKey 唯一定位一个缓存条目（请求方法 + 完整 URL）。
type RequestKey struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

// NewRequestKey 规范化方法名，空方法视为 GET。
func NewRequestKey(method, url string) RequestKey {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	return RequestKey{Method: method, URL: url}
}

func (k RequestKey) String() string {
	return k.Method + " " + k.URL
}

// Snapshot 是一次完整响应的不可变副本。
type Snapshot struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// OK 对应状态码 2xx。
func (s *Snapshot) OK() bool {
	return s != nil && s.Status >= 200 && s.Status <= 299
}

// Clone 复制出一份与原快照互不共享内存的副本，调用方与缓存写入各持一份。
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	clone := &Snapshot{
		Status:   s.Status,
		Header:   s.Header.Clone(),
		StoredAt: s.StoredAt,
	}
	if s.Body != nil {
		clone.Body = append([]byte(nil), s.Body...)
	}
	return clone
}

var (
	// ErrNotFound 表示缓存条目不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrStoreNotFound 表示仓库不存在（从未创建或已在代际切换中被删除）。
	ErrStoreNotFound = errors.New("cache store not found")
	// ErrInvalidStoreName 表示仓库名为空或包含路径分隔符等非法字符。
	ErrInvalidStoreName = errors.New("invalid cache store name")
)

// IsMiss 判断错误是否可按未命中处理（条目或仓库不存在）。
func IsMiss(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrStoreNotFound)
}

func validateStoreName(name string) error {
	if name == "" || name == "." || name == ".." {
		return ErrInvalidStoreName
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return ErrInvalidStoreName
	}
	return nil
}
