package analyzer

import (
	"net"
	"strings"
	"sync"

	"go-llmsentry/pkg/logger"
)

// Whitelist 放行的目的地址网段（如公司批准的LLM网关），命中时不告警
type Whitelist struct {
	nets []*net.IPNet
	mu   sync.RWMutex
}

func NewWhitelist(destinations []string) *Whitelist {
	w := &Whitelist{
		nets: make([]*net.IPNet, 0),
	}
	if len(destinations) > 0 {
		w.Update(destinations)
	}
	return w
}

// Update 整体替换放行的目的地址；单个地址按 /32 或 /128 处理，无效条目跳过
func (w *Whitelist) Update(destinations []string) {
	nets := make([]*net.IPNet, 0, len(destinations))
	for _, entry := range destinations {
		ipnet, err := parseDestination(entry)
		if err != nil {
			logger.Log.Errorf("无效的白名单地址: %s, 错误: %v", entry, err)
			continue
		}
		nets = append(nets, ipnet)
		logger.Log.Debugf("添加白名单: %s", ipnet.String())
	}

	w.mu.Lock()
	w.nets = nets
	w.mu.Unlock()

	logger.Log.Infof("白名单更新完成，共 %d 条记录", len(nets))
}

// ContainsIP 判断检测事件的目的地址（响应的 remote IP）是否放行
func (w *Whitelist) ContainsIP(remoteIP string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if len(w.nets) == 0 {
		return false
	}

	ip := net.ParseIP(strings.Trim(remoteIP, "[]"))
	if ip == nil {
		logger.Log.Warnf("无效的目的地址: %s", remoteIP)
		return false
	}

	for _, ipnet := range w.nets {
		if ipnet.Contains(ip) {
			logger.Log.Debugf("目的地址 %s 匹配白名单 %s", remoteIP, ipnet.String())
			return true
		}
	}
	return false
}

// Len 生效的网段数
func (w *Whitelist) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.nets)
}

func parseDestination(entry string) (*net.IPNet, error) {
	entry = strings.TrimSpace(entry)
	if !strings.Contains(entry, "/") {
		if strings.Contains(entry, ":") {
			entry += "/128"
		} else {
			entry += "/32"
		}
	}
	_, ipnet, err := net.ParseCIDR(entry)
	return ipnet, err
}
