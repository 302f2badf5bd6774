package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/offline-cache/offline-cache/internal/cache"
)

// Request 是被拦截请求的传输无关表示。
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Key 返回该请求在缓存中的身份。
func (r Request) Key() cache.RequestKey {
	return cache.NewRequestKey(r.Method, r.URL)
}

// Fetcher 负责把请求发往网络并返回完整响应快照。
// 实现必须尊重 ctx 取消；任何传输层失败都以 error 返回，非 2xx 响应不是 error。
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*cache.Snapshot, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req Request) (*cache.Snapshot, error)

// Fetch makes FetcherFunc satisfy Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, req Request) (*cache.Snapshot, error) {
	return f(ctx, req)
}

// HTTPFetcher 基于共享 http.Client 的 Fetcher 实现。
type HTTPFetcher struct {
	client *http.Client
	now    func() time.Time
}

// NewHTTPFetcher 使用调用方提供的 client 构造 Fetcher。
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{client: client, now: time.Now}
}

// Fetch 发送请求并完整读取响应体。响应体读完之前 ctx 被取消会返回错误，
// 读完之后的快照与调用方是否继续关心无关。
func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) (*cache.Snapshot, error) {
	if req.URL == "" {
		return nil, errors.New("request url required")
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if req.Header != nil {
		CopyHeaders(httpReq.Header, req.Header)
		httpReq.Header.Del("Host")
		httpReq.Header.Del("Content-Length")
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	header := make(http.Header, len(resp.Header))
	CopyHeaders(header, resp.Header)
	return &cache.Snapshot{
		Status:   resp.StatusCode,
		Header:   header,
		Body:     payload,
		StoredAt: f.now().UTC(),
	}, nil
}
