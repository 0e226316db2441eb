// Package correlator 按 requestId 关联 begin/complete 事件，产出特征记录。
//
// 每个 requestId 的状态：NONE → PENDING → DONE，或 PENDING → EXPIRED（超过保留时间被清理）。
// Handle 是状态转移函数，返回 Effect 交给调用方执行，本身不做网络I/O。
package correlator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go-llmsentry/pkg/features"
	"go-llmsentry/pkg/logger"
	"go-llmsentry/pkg/metrics"
	"go-llmsentry/pkg/models"
	"go-llmsentry/pkg/pending"
	"go-llmsentry/pkg/throttle"
)

type EffectKind int

const (
	// EffectNone 不产生输出
	EffectNone EffectKind = iota
	// EffectEmit 产出特征记录，需要分类
	EffectEmit
	// EffectDetect 响应头启发式已确认，直接交给 Sink
	EffectDetect
)

func (k EffectKind) String() string {
	switch k {
	case EffectEmit:
		return "emit"
	case EffectDetect:
		return "detect"
	default:
		return "none"
	}
}

// 丢弃原因
const (
	ReasonSelfTraffic      = "self-traffic"
	ReasonThrottled        = "throttled"
	ReasonMalformed        = "malformed"
	ReasonPending          = "pending"
	ReasonNoMatch          = "no-match"
	ReasonDecidedByHeaders = "decided-by-headers"
)

// Effect 一次事件处理的结果
type Effect struct {
	Kind      EffectKind
	Reason    string
	RequestID models.RequestID
	URL       string
	Method    string
	RemoteIP  string
	Record    models.FeatureRecord
	Verdict   models.Verdict
	// Err 非致命错误（格式错误、找不到待关联请求），Kind 仍然有效
	Err error
}

// HeaderMatcher 基于响应头的本地启发式
type HeaderMatcher interface {
	Match(rawURL string, headers []models.Header) bool
}

type Options struct {
	Retention      time.Duration
	SweepInterval  time.Duration
	ThrottleWindow time.Duration
	// SelfEndpoints 分类服务自身地址，其流量不参与观测
	SelfEndpoints []string
	HeaderMatcher HeaderMatcher
	Now           func() time.Time
}

// Correlator 持有待关联表、节流门和响应头判定标记，支持多个独立实例
type Correlator struct {
	table         *pending.Table
	gate          *throttle.Gate
	exclusions    *Exclusions
	headerMatcher HeaderMatcher

	decided   map[models.RequestID]time.Time
	decidedMu sync.Mutex

	retention     time.Duration
	sweepInterval time.Duration
	now           func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

func New(opts Options) *Correlator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Retention <= 0 {
		opts.Retention = 30 * time.Second
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 10 * time.Second
	}
	return &Correlator{
		table:         pending.New(opts.Retention, opts.Now),
		gate:          throttle.NewGate(opts.ThrottleWindow, opts.Now),
		exclusions:    NewExclusions(opts.SelfEndpoints),
		headerMatcher: opts.HeaderMatcher,
		decided:       make(map[models.RequestID]time.Time),
		retention:     opts.Retention,
		sweepInterval: opts.SweepInterval,
		now:           opts.Now,
		done:          make(chan struct{}),
	}
}

// Start 启动定时清理
func (c *Correlator) Start() {
	c.startOnce.Do(func() {
		c.wg.Add(1)
		go c.sweepLoop()
	})
}

// Stop 停止定时清理并等待退出
func (c *Correlator) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
	})
	c.wg.Wait()
}

// Handle 分发类型化事件
func (c *Correlator) Handle(ev models.Event) Effect {
	switch e := ev.(type) {
	case models.BeginEvent:
		return c.HandleBegin(e)
	case *models.BeginEvent:
		return c.HandleBegin(*e)
	case models.HeaderEvent:
		return c.HandleHeader(e)
	case *models.HeaderEvent:
		return c.HandleHeader(*e)
	case models.CompleteEvent:
		return c.HandleComplete(e)
	case *models.CompleteEvent:
		return c.HandleComplete(*e)
	default:
		err := fmt.Errorf("%w: unsupported event %T", models.ErrMalformedEvent, ev)
		logger.Log.Warnf("忽略事件: %v", err)
		return Effect{Kind: EffectNone, Reason: ReasonMalformed, Err: err}
	}
}

// HandleBegin NONE → PENDING
func (c *Correlator) HandleBegin(ev models.BeginEvent) Effect {
	if ev.RequestID == "" || ev.URL == "" {
		err := fmt.Errorf("%w: begin event missing request_id or url", models.ErrMalformedEvent)
		logger.Log.Warnf("忽略begin事件: %v", err)
		return Effect{Kind: EffectNone, Reason: ReasonMalformed, RequestID: ev.RequestID, Err: err}
	}
	if c.exclusions.Contains(ev.URL) {
		metrics.SelfTrafficIgnored.Inc()
		return Effect{Kind: EffectNone, Reason: ReasonSelfTraffic, RequestID: ev.RequestID, URL: ev.URL}
	}

	p := models.PendingRequest{
		RequestID:       ev.RequestID,
		Method:          ev.Method,
		URL:             ev.URL,
		RequestBodySize: features.BodySize(ev.RequestBody),
		ObservedAt:      c.now(),
	}
	var err error
	if err = c.table.Put(p); errors.Is(err, pending.ErrDuplicateRequest) {
		logger.Log.Errorf("requestId 重复出现: request_id=%s, url=%s", ev.RequestID, ev.URL)
	}
	metrics.PendingRequests.Set(float64(c.table.Len()))

	return Effect{Kind: EffectNone, Reason: ReasonPending, RequestID: ev.RequestID, URL: ev.URL, Method: ev.Method, Err: err}
}

// HandleHeader 仅用于 content-type 启发式，命中时绕过外部分类服务
func (c *Correlator) HandleHeader(ev models.HeaderEvent) Effect {
	if c.headerMatcher == nil || ev.RequestID == "" {
		return Effect{Kind: EffectNone, Reason: ReasonNoMatch, RequestID: ev.RequestID}
	}

	p, ok := c.table.Peek(ev.RequestID)
	if !ok || !c.headerMatcher.Match(p.URL, ev.ResponseHeaders) {
		return Effect{Kind: EffectNone, Reason: ReasonNoMatch, RequestID: ev.RequestID}
	}

	c.decidedMu.Lock()
	_, already := c.decided[ev.RequestID]
	if !already {
		c.decided[ev.RequestID] = c.now()
	}
	c.decidedMu.Unlock()
	if already {
		return Effect{Kind: EffectNone, Reason: ReasonDecidedByHeaders, RequestID: ev.RequestID, URL: p.URL}
	}

	if !c.gate.ShouldEmit(throttle.KeyFor(p.Method, p.URL)) {
		metrics.Throttled.Inc()
		return Effect{Kind: EffectNone, Reason: ReasonThrottled, RequestID: ev.RequestID, URL: p.URL, Method: p.Method}
	}

	logger.Log.Debugf("响应头确认LLM流量: request_id=%s, url=%s", ev.RequestID, p.URL)
	return Effect{
		Kind:      EffectDetect,
		RequestID: ev.RequestID,
		URL:       p.URL,
		Method:    p.Method,
		Verdict:   models.Verdict{IsLLM: true, Confidence: 1.0},
	}
}

// HandleComplete PENDING → DONE；没有待关联记录时按默认值降级处理
func (c *Correlator) HandleComplete(ev models.CompleteEvent) Effect {
	if ev.URL == "" {
		err := fmt.Errorf("%w: complete event missing url", models.ErrMalformedEvent)
		logger.Log.Warnf("忽略complete事件: request_id=%s, %v", ev.RequestID, err)
		if ev.RequestID != "" {
			c.table.TakeAndRemove(ev.RequestID)
		}
		return Effect{Kind: EffectNone, Reason: ReasonMalformed, RequestID: ev.RequestID, Err: err}
	}
	if c.exclusions.Contains(ev.URL) {
		metrics.SelfTrafficIgnored.Inc()
		return Effect{Kind: EffectNone, Reason: ReasonSelfTraffic, RequestID: ev.RequestID, URL: ev.URL}
	}

	var partial *models.PendingRequest
	var warn error
	if p, ok := c.table.TakeAndRemove(ev.RequestID); ok {
		partial = &p
	} else {
		warn = fmt.Errorf("%w: request_id=%s", models.ErrStaleCorrelation, ev.RequestID)
		metrics.StaleCorrelations.Inc()
		logger.Log.Debugf("找不到待关联请求，使用默认值: request_id=%s, url=%s", ev.RequestID, ev.URL)
		if ev.Method != "" {
			partial = &models.PendingRequest{RequestID: ev.RequestID, Method: ev.Method, URL: ev.URL}
		}
	}
	metrics.PendingRequests.Set(float64(c.table.Len()))

	method := ev.Method
	if partial != nil && partial.Method != "" {
		method = partial.Method
	}
	effect := Effect{
		RequestID: ev.RequestID,
		URL:       ev.URL,
		Method:    method,
		RemoteIP:  ev.RemoteIP,
		Err:       warn,
	}

	c.decidedMu.Lock()
	_, decided := c.decided[ev.RequestID]
	delete(c.decided, ev.RequestID)
	c.decidedMu.Unlock()
	if decided {
		effect.Kind = EffectNone
		effect.Reason = ReasonDecidedByHeaders
		return effect
	}

	if !c.gate.ShouldEmit(throttle.KeyFor(method, ev.URL)) {
		metrics.Throttled.Inc()
		effect.Kind = EffectNone
		effect.Reason = ReasonThrottled
		return effect
	}

	effect.Kind = EffectEmit
	effect.Record = features.Extract(partial, ev)
	metrics.RecordsEmitted.Inc()
	return effect
}

// Pending 当前待关联请求数
func (c *Correlator) Pending() int {
	return c.table.Len()
}

// Sweep 清理过期的待关联请求、节流键和响应头判定标记
func (c *Correlator) Sweep() {
	evicted := c.table.Sweep()
	if evicted > 0 {
		metrics.PendingEvicted.Add(float64(evicted))
		logger.Log.Debugf("清理过期待关联请求: %d", evicted)
	}
	c.gate.Sweep()

	threshold := c.now().Add(-c.retention)
	c.decidedMu.Lock()
	for id, at := range c.decided {
		if at.Before(threshold) {
			delete(c.decided, id)
		}
	}
	c.decidedMu.Unlock()

	metrics.PendingRequests.Set(float64(c.table.Len()))
}

func (c *Correlator) sweepLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.done:
			return
		}
	}
}
