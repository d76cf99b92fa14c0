package proxy

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientLimiter applies a token bucket per client IP.
type clientLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration

	mu        sync.Mutex
	clients   map[string]*limitedClient
	lastSweep time.Time
}

type limitedClient struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newClientLimiter returns nil when rps is not positive.
func newClientLimiter(rps float64, burst int) *clientLimiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = int(rps) + 1
	}
	return &clientLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idle:    10 * time.Minute,
		clients: make(map[string]*limitedClient),
	}
}

func (cl *clientLimiter) allow(r *http.Request) bool {
	if cl == nil {
		return true
	}
	ip := clientIP(r)
	now := time.Now()

	cl.mu.Lock()
	c, ok := cl.clients[ip]
	if !ok {
		c = &limitedClient{limiter: rate.NewLimiter(cl.limit, cl.burst)}
		cl.clients[ip] = c
	}
	c.lastSeen = now
	if now.Sub(cl.lastSweep) > cl.idle {
		for k, v := range cl.clients {
			if now.Sub(v.lastSeen) > cl.idle {
				delete(cl.clients, k)
			}
		}
		cl.lastSweep = now
	}
	limiter := c.limiter
	cl.mu.Unlock()

	return limiter.AllowN(now, 1)
}

// clientIP is the connection's remote address. Forwarding headers are ignored.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
