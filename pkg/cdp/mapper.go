package cdp

import (
	"encoding/base64"
	"sort"
	"strconv"
	"sync"
	"time"

	"go-llmsentry/pkg/models"

	"github.com/chromedp/cdproto/network"
)

// requestMeta loadingFinished 只带 RequestID，URL/方法/响应头需在前面的事件里记下
type requestMeta struct {
	id         models.RequestID // 当前这一跳，重定向后追加 #跳数
	hops       int
	url        string
	method     string
	headers    []models.Header
	statusCode int
	remoteIP   string
	seenAt     time.Time
}

// Mapper 把 Network 域事件翻译成 begin / header / complete 事件
type Mapper struct {
	meta   map[models.RequestID]*requestMeta
	metaMu sync.Mutex
	now    func() time.Time
}

func NewMapper(now func() time.Time) *Mapper {
	if now == nil {
		now = time.Now
	}
	return &Mapper{
		meta: make(map[models.RequestID]*requestMeta),
		now:  now,
	}
}

// Map 处理单个 CDP 事件；不关心的事件返回 nil
func (m *Mapper) Map(tabID string, ev interface{}) []models.Event {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		return m.onRequestWillBeSent(tabID, e)
	case *network.EventResponseReceived:
		return m.onResponseReceived(tabID, e)
	case *network.EventLoadingFinished:
		return m.onLoadingFinished(tabID, e)
	case *network.EventLoadingFailed:
		m.metaMu.Lock()
		delete(m.meta, requestID(tabID, e.RequestID))
		m.metaMu.Unlock()
	}
	return nil
}

func (m *Mapper) onRequestWillBeSent(tabID string, ev *network.EventRequestWillBeSent) []models.Event {
	if ev.Request == nil {
		return nil
	}
	base := requestID(tabID, ev.RequestID)
	next := &requestMeta{
		id:     base,
		url:    ev.Request.URL,
		method: ev.Request.Method,
		seenAt: m.now(),
	}

	var out []models.Event

	m.metaMu.Lock()
	defer m.metaMu.Unlock()

	// 重定向复用同一个 CDP RequestID：先结束上一跳，新的一跳换一个 ID
	if prev, ok := m.meta[base]; ok && ev.RedirectResponse != nil {
		next.hops = prev.hops + 1
		next.id = hopID(base, next.hops)
		out = append(out, models.CompleteEvent{
			RequestID:       prev.id,
			URL:             prev.url,
			Method:          prev.method,
			ResponseHeaders: convertHeaders(ev.RedirectResponse.Headers),
			ResponseSize:    int64(ev.RedirectResponse.EncodedDataLength),
			StatusCode:      int(ev.RedirectResponse.Status),
			RemoteIP:        ev.RedirectResponse.RemoteIPAddress,
		})
	}

	m.meta[base] = next

	out = append(out, models.BeginEvent{
		RequestID:   next.id,
		Method:      ev.Request.Method,
		URL:         ev.Request.URL,
		RequestBody: postDataParts(ev.Request),
	})
	return out
}

func (m *Mapper) onResponseReceived(tabID string, ev *network.EventResponseReceived) []models.Event {
	if ev.Response == nil {
		return nil
	}
	id := requestID(tabID, ev.RequestID)
	headers := convertHeaders(ev.Response.Headers)

	m.metaMu.Lock()
	if meta, ok := m.meta[id]; ok {
		id = meta.id
		meta.headers = headers
		meta.statusCode = int(ev.Response.Status)
		meta.remoteIP = ev.Response.RemoteIPAddress
	}
	m.metaMu.Unlock()

	return []models.Event{models.HeaderEvent{
		RequestID:       id,
		ResponseHeaders: headers,
	}}
}

func (m *Mapper) onLoadingFinished(tabID string, ev *network.EventLoadingFinished) []models.Event {
	id := requestID(tabID, ev.RequestID)

	m.metaMu.Lock()
	meta, ok := m.meta[id]
	if ok {
		delete(m.meta, id)
	}
	m.metaMu.Unlock()

	if !ok {
		return nil
	}
	return []models.Event{models.CompleteEvent{
		RequestID:       meta.id,
		URL:             meta.url,
		Method:          meta.method,
		ResponseHeaders: meta.headers,
		ResponseSize:    int64(ev.EncodedDataLength),
		StatusCode:      meta.statusCode,
		RemoteIP:        meta.remoteIP,
	}}
}

// CleanupStale 清理 maxAge 之前的记录，返回清理数量
func (m *Mapper) CleanupStale(maxAge time.Duration) int {
	threshold := m.now().Add(-maxAge)

	m.metaMu.Lock()
	defer m.metaMu.Unlock()

	removed := 0
	for id, meta := range m.meta {
		if meta.seenAt.Before(threshold) {
			delete(m.meta, id)
			removed++
		}
	}
	return removed
}

func (m *Mapper) Len() int {
	m.metaMu.Lock()
	defer m.metaMu.Unlock()
	return len(m.meta)
}

// requestID 不同标签页的 RequestID 可能重复，加上标签页前缀
func requestID(tabID string, id network.RequestID) models.RequestID {
	return models.RequestID(tabID + ":" + string(id))
}

func hopID(base models.RequestID, hops int) models.RequestID {
	if hops == 0 {
		return base
	}
	return base + models.RequestID("#"+strconv.Itoa(hops))
}

func postDataParts(req *network.Request) []models.BodyPart {
	if !req.HasPostData || len(req.PostDataEntries) == 0 {
		return nil
	}
	parts := make([]models.BodyPart, 0, len(req.PostDataEntries))
	for _, entry := range req.PostDataEntries {
		if entry == nil || entry.Bytes == "" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(entry.Bytes)
		if err != nil {
			decoded = []byte(entry.Bytes)
		}
		parts = append(parts, models.BodyPart{Bytes: decoded})
	}
	return parts
}

func convertHeaders(headers network.Headers) []models.Header {
	result := make([]models.Header, 0, len(headers))
	for k, v := range headers {
		if s, ok := v.(string); ok {
			result = append(result, models.Header{Name: k, Value: s})
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}
