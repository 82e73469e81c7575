package helpers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/onsi/gomega"
)

// StreamBreaker proxies a relay and can cut every event stream on demand.
// Once broken, new stream requests are refused with 503 while all other
// requests keep reaching the relay.
type StreamBreaker struct {
	proxy   *httputil.ReverseProxy
	server  *httptest.Server
	streams atomic.Int32

	mu       sync.Mutex
	broken   bool
	breakCtx context.Context
	doBreak  context.CancelFunc
}

// NewStreamBreaker starts a proxy in front of target
func NewStreamBreaker(target string) *StreamBreaker {
	u, err := url.Parse(target)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())

	proxy := httputil.NewSingleHostReverseProxy(u)
	proxy.FlushInterval = -1

	b := &StreamBreaker{proxy: proxy}
	b.breakCtx, b.doBreak = context.WithCancel(context.Background())
	b.server = httptest.NewServer(b)
	return b
}

// ServeHTTP implements http.Handler
func (b *StreamBreaker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, "/stream/") {
		b.proxy.ServeHTTP(w, r)
		return
	}

	b.mu.Lock()
	broken := b.broken
	b.mu.Unlock()
	if broken {
		http.Error(w, "stream unavailable", http.StatusServiceUnavailable)
		return
	}

	b.streams.Add(1)
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(b.breakCtx, cancel)
	defer stop()

	b.proxy.ServeHTTP(w, r.WithContext(ctx))
}

// Break cuts all open streams and refuses new ones
func (b *StreamBreaker) Break() {
	b.mu.Lock()
	b.broken = true
	b.mu.Unlock()
	b.doBreak()
}

// StreamRequests returns how many stream requests reached the relay
func (b *StreamBreaker) StreamRequests() int {
	return int(b.streams.Load())
}

// URL returns the proxy's base URL
func (b *StreamBreaker) URL() string {
	return b.server.URL
}

// Close stops the proxy
func (b *StreamBreaker) Close() {
	b.doBreak()
	b.server.Close()
}
