package pending

import (
	"errors"
	"sync"
	"time"

	"go-llmsentry/pkg/models"
)

// ErrDuplicateRequest 同一个 requestId 出现了两次 begin 事件
var ErrDuplicateRequest = errors.New("duplicate request id")

// Table 待关联请求表，begin 与 complete 事件之间暂存部分元数据
type Table struct {
	mu        sync.Mutex
	entries   map[models.RequestID]models.PendingRequest
	retention time.Duration
	now       func() time.Time
}

func New(retention time.Duration, now func() time.Time) *Table {
	if now == nil {
		now = time.Now
	}
	return &Table{
		entries:   make(map[models.RequestID]models.PendingRequest),
		retention: retention,
		now:       now,
	}
}

// Put 存入记录，已存在时覆盖并返回 ErrDuplicateRequest
func (t *Table) Put(p models.PendingRequest) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p.ObservedAt.IsZero() {
		p.ObservedAt = t.now()
	}
	_, exists := t.entries[p.RequestID]
	t.entries[p.RequestID] = p
	if exists {
		return ErrDuplicateRequest
	}
	return nil
}

// Peek 只读查看，不删除
func (t *Table) Peek(id models.RequestID) (models.PendingRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.entries[id]
	if !ok || t.expired(p) {
		return models.PendingRequest{}, false
	}
	return p, true
}

// TakeAndRemove 取出并删除，过期记录视为不存在
func (t *Table) TakeAndRemove(id models.RequestID) (models.PendingRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.entries[id]
	if !ok {
		return models.PendingRequest{}, false
	}
	delete(t.entries, id)
	if t.expired(p) {
		return models.PendingRequest{}, false
	}
	return p, true
}

// Sweep 清理超过保留时间的记录，返回清理数量
func (t *Table) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	evicted := 0
	for id, p := range t.entries {
		if t.expired(p) {
			delete(t.entries, id)
			evicted++
		}
	}
	return evicted
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Table) expired(p models.PendingRequest) bool {
	return t.retention > 0 && t.now().Sub(p.ObservedAt) > t.retention
}
