package relay

import (
	"net"
	"net/http"
	"strings"
	"sync"
)

// admission counts live signaling connections per source address.
type admission struct {
	mu     sync.Mutex
	limit  int
	counts map[string]int
}

func newAdmission(limit int) *admission {
	return &admission{limit: limit, counts: make(map[string]int)}
}

// acquire increments ip's counter unless it is already at the ceiling.
func (a *admission) acquire(ip string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.counts[ip] >= a.limit {
		return false
	}
	a.counts[ip]++
	return true
}

// release decrements ip's counter, floored at zero.
func (a *admission) release(ip string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.counts[ip] <= 1 {
		delete(a.counts, ip)
		return
	}
	a.counts[ip]--
}

func (a *admission) count(ip string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts[ip]
}

// sourceIP extracts the remote host from the request, without the port.
func sourceIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// originPolicy decides whether a connection's declared Origin is accepted.
type originPolicy struct {
	permissive bool
	allowed    []string
}

// allows accepts everything in permissive mode, otherwise only origins
// starting with an allow-list entry.
func (p originPolicy) allows(origin string) bool {
	if p.permissive {
		return true
	}
	if origin == "" {
		return false
	}
	for _, prefix := range p.allowed {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}
