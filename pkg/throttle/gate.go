package throttle

import (
	"net/url"
	"strings"
	"sync"
	"time"
)

// Gate 按 key 去重，每个 key 在窗口期内只放行一次
type Gate struct {
	mu     sync.Mutex
	seen   map[string]time.Time // key -> 首次放行时间
	window time.Duration
	now    func() time.Time
}

func NewGate(window time.Duration, now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}
	return &Gate{
		seen:   make(map[string]time.Time),
		window: window,
		now:    now,
	}
}

// ShouldEmit 窗口内首次出现返回 true 并记录
func (g *Gate) ShouldEmit(key string) bool {
	if g.window <= 0 {
		return true
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if last, ok := g.seen[key]; ok && now.Sub(last) < g.window {
		return false
	}
	g.seen[key] = now
	return true
}

// Sweep 清理已过期的 key
func (g *Gate) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	removed := 0
	for key, last := range g.seen {
		if now.Sub(last) >= g.window {
			delete(g.seen, key)
			removed++
		}
	}
	return removed
}

func (g *Gate) Clear() {
	g.mu.Lock()
	g.seen = make(map[string]time.Time)
	g.mu.Unlock()
}

func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

// KeyFor 生成 (method, 规范化URL) 节流键：scheme/host 小写，去掉 fragment
func KeyFor(method, rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return method + " " + rawURL
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	return method + " " + u.String()
}
