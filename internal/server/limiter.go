package server

import (
	"net"
	"sync"
	"time"

	"github.com/bluele/gcache"
	"golang.org/x/time/rate"
)

const limiterCacheSize = 4096

// acceptLimiter limits how fast a single remote host may open connections. Limiters of hosts
// that have not connected for a while are evicted.
type acceptLimiter struct {
	mu    sync.Mutex
	cache gcache.Cache
	r     rate.Limit
	b     int
}

// newAcceptLimiter returns nil when limiting is disabled
func newAcceptLimiter(perSecond float64, burst int) *acceptLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &acceptLimiter{
		cache: gcache.New(limiterCacheSize).LRU().Expiration(time.Hour).Build(),
		r:     rate.Limit(perSecond),
		b:     burst,
	}
}

func (l *acceptLimiter) Allow(addr net.Addr) bool {
	if l == nil {
		return true
	}
	return l.limiter(hostOf(addr)).Allow()
}

func (l *acceptLimiter) limiter(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cached, err := l.cache.Get(host); err == nil {
		return cached.(*rate.Limiter)
	}
	limiter := rate.NewLimiter(l.r, l.b)
	_ = l.cache.Set(host, limiter)
	return limiter
}

func hostOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
