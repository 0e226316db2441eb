package correlator

import (
	"net/url"
	"strings"
	"sync"

	"go-llmsentry/pkg/logger"
)

// Exclusions 自身流量排除列表：按 scheme+host+path 精确匹配，忽略 query 和 fragment
type Exclusions struct {
	endpoints map[string]struct{}
	mu        sync.RWMutex
}

func NewExclusions(endpoints []string) *Exclusions {
	e := &Exclusions{endpoints: make(map[string]struct{})}
	e.Update(endpoints)
	return e
}

func (e *Exclusions) Update(endpoints []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.endpoints = make(map[string]struct{}, len(endpoints))
	for _, raw := range endpoints {
		key, ok := endpointKey(raw)
		if !ok {
			logger.Log.Errorf("无效的排除地址: %s", raw)
			continue
		}
		e.endpoints[key] = struct{}{}
		logger.Log.Debugf("添加排除地址: %s", key)
	}
}

// Contains 判断URL是否指向被排除的端点
func (e *Exclusions) Contains(rawURL string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(e.endpoints) == 0 {
		return false
	}
	key, ok := endpointKey(rawURL)
	if !ok {
		return false
	}
	_, found := e.endpoints[key]
	return found
}

func endpointKey(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", false
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + path, true
}
