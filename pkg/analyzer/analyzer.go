package analyzer

import (
	"context"
	"errors"
	"sync"
	"time"

	"go-llmsentry/pkg/classifier"
	"go-llmsentry/pkg/correlator"
	"go-llmsentry/pkg/logger"
	"go-llmsentry/pkg/metrics"
	"go-llmsentry/pkg/models"
	"go-llmsentry/pkg/sink"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
)

// Recorder 记录每条已分类的特征记录（时序库）
type Recorder interface {
	SaveFeatureRecord(ctx context.Context, eff correlator.Effect, res classifier.Result) error
}

// Enricher 给检测事件补充目的地址信息
type Enricher interface {
	Enrich(d *models.Detection)
}

type Options struct {
	QueueSize   int
	MaxInFlight int
	// TaskTimeout 单个分类任务的截止时间
	TaskTimeout time.Duration
	// SinkTimeout 投递检测事件的截止时间，与分类耗时无关
	SinkTimeout time.Duration
}

// Pipeline 事件 → 关联器 → 分类 → Sink
type Pipeline struct {
	correlator *correlator.Correlator
	classifier *classifier.Chain
	sink       sink.Sink
	recorder   Recorder
	enricher   Enricher
	whitelist  *Whitelist

	events      chan models.Event
	sem         chan struct{}
	taskTimeout time.Duration
	sinkTimeout time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	tasks     conc.WaitGroup
	spawnMu   sync.RWMutex // Stop 之后不再启动新任务
	loopDone  chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewPipeline(c *correlator.Correlator, chain *classifier.Chain, s sink.Sink, opts Options) *Pipeline {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 32
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = 5 * time.Second
	}
	if opts.SinkTimeout <= 0 {
		opts.SinkTimeout = 10 * time.Second
	}
	if s == nil {
		s = sink.Multi{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		correlator:  c,
		classifier:  chain,
		sink:        s,
		whitelist:   NewWhitelist(nil),
		events:      make(chan models.Event, opts.QueueSize),
		sem:         make(chan struct{}, opts.MaxInFlight),
		taskTimeout: opts.TaskTimeout,
		sinkTimeout: opts.SinkTimeout,
		ctx:         ctx,
		cancel:      cancel,
		loopDone:    make(chan struct{}),
	}
}

// WithRecorder 可选的特征记录存储
func (p *Pipeline) WithRecorder(r Recorder) *Pipeline {
	p.recorder = r
	return p
}

// WithEnricher 可选的 GeoIP 补充
func (p *Pipeline) WithEnricher(e Enricher) *Pipeline {
	p.enricher = e
	return p
}

// LoadWhitelistFromConfig 放行的目的地址（如公司内部批准的LLM网关）
func (p *Pipeline) LoadWhitelistFromConfig(whitelistIPs []string) {
	if len(whitelistIPs) == 0 {
		logger.Log.Debugf("配置中的白名单IP列表为空")
		return
	}
	logger.Log.Infof("从配置加载白名单，共 %d 条记录", len(whitelistIPs))
	p.whitelist.Update(whitelistIPs)
	if skipped := len(whitelistIPs) - p.whitelist.Len(); skipped > 0 {
		logger.Log.Warnf("白名单中有 %d 条无效记录被忽略", skipped)
	}
}

// Submit 非阻塞提交事件，队列满时丢弃
func (p *Pipeline) Submit(ev models.Event) bool {
	if ev == nil {
		return false
	}
	select {
	case <-p.ctx.Done():
		metrics.EventsDropped.WithLabelValues("stopped").Inc()
		return false
	default:
	}

	select {
	case p.events <- ev:
		metrics.EventsReceived.WithLabelValues(ev.Kind()).Inc()
		return true
	default:
		metrics.EventsDropped.WithLabelValues("queue_full").Inc()
		logger.Log.Warnf("事件队列已满，丢弃事件: kind=%s, request_id=%s", ev.Kind(), ev.ID())
		return false
	}
}

// QueueDepth 队列中等待处理的事件数
func (p *Pipeline) QueueDepth() int {
	return len(p.events)
}

// Pending 关联器中待关联的请求数
func (p *Pipeline) Pending() int {
	return p.correlator.Pending()
}

func (p *Pipeline) Start() {
	p.startOnce.Do(func() {
		p.correlator.Start()
		go p.loop()
	})
}

// Stop 取消进行中的分类任务并等待退出
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		p.spawnMu.Lock()
		p.spawnMu.Unlock()
		p.startOnce.Do(func() { close(p.loopDone) })
		<-p.loopDone
		if r := p.tasks.WaitAndRecover(); r != nil {
			logger.Log.Errorf("分类任务异常退出: %v", r.Value)
		}
		p.correlator.Stop()
	})
}

func (p *Pipeline) loop() {
	defer close(p.loopDone)
	for {
		select {
		case <-p.ctx.Done():
			return
		case ev := <-p.events:
			p.Process(ev)
		}
	}
}

// Process 同步关联单个事件；分类和 Sink 投递异步执行，并发已满时丢弃
func (p *Pipeline) Process(ev models.Event) {
	p.process(ev, false)
}

// ProcessWait 与 Process 相同，但并发已满时等待空位（离线回放使用）
func (p *Pipeline) ProcessWait(ev models.Event) {
	p.process(ev, true)
}

func (p *Pipeline) process(ev models.Event, wait bool) {
	eff := p.correlator.Handle(ev)
	switch eff.Kind {
	case correlator.EffectEmit:
		p.spawn(eff, wait, func() {
			ctx, cancel := context.WithTimeout(p.ctx, p.taskTimeout)
			defer cancel()
			p.classify(ctx, eff)
		})
	case correlator.EffectDetect:
		p.spawn(eff, wait, func() {
			p.deliver(eff, eff.Verdict, models.SourceContentType)
		})
	default:
		if errors.Is(eff.Err, models.ErrMalformedEvent) {
			metrics.EventsDropped.WithLabelValues("malformed").Inc()
		}
	}
}

// spawn 在并发上限内异步执行任务，事件循环不等待分类或 Sink
func (p *Pipeline) spawn(eff correlator.Effect, wait bool, task func()) {
	p.spawnMu.RLock()
	defer p.spawnMu.RUnlock()

	if p.ctx.Err() != nil {
		metrics.EventsDropped.WithLabelValues("stopped").Inc()
		return
	}
	if wait {
		select {
		case p.sem <- struct{}{}:
		case <-p.ctx.Done():
			metrics.EventsDropped.WithLabelValues("stopped").Inc()
			return
		}
	} else {
		select {
		case p.sem <- struct{}{}:
		default:
			metrics.EventsDropped.WithLabelValues("classifier_busy").Inc()
			logger.Log.Warnf("分类任务过多，丢弃记录: url=%s", eff.URL)
			return
		}
	}
	// select 在两边都就绪时随机选择
	if p.ctx.Err() != nil {
		<-p.sem
		metrics.EventsDropped.WithLabelValues("stopped").Inc()
		return
	}

	p.tasks.Go(func() {
		defer func() { <-p.sem }()
		task()
	})
}

func (p *Pipeline) classify(ctx context.Context, eff correlator.Effect) {
	res := p.classifier.Run(ctx, eff.Record)

	if p.recorder != nil {
		// 分类可能用完了 ctx 的时间，存储单独计时
		recCtx, cancel := context.WithTimeout(p.ctx, p.sinkTimeout)
		if err := p.recorder.SaveFeatureRecord(recCtx, eff, res); err != nil {
			logger.Log.Errorf("保存特征记录失败: %v", err)
		}
		cancel()
	}

	if res.Err != nil {
		outcome := "unavailable"
		if errors.Is(res.Err, classifier.ErrTimeout) {
			outcome = "timeout"
		}
		metrics.ClassifierResults.WithLabelValues(outcome).Inc()
		logger.Log.Errorf("分类失败，丢弃记录: url=%s, error=%v", eff.URL, res.Err)
		return
	}

	if !res.Verdict.IsLLM {
		metrics.ClassifierResults.WithLabelValues("negative").Inc()
		return
	}
	metrics.ClassifierResults.WithLabelValues("positive").Inc()
	p.deliver(eff, res.Verdict, res.Source)
}

// deliver 投递检测事件，截止时间从 SinkTimeout 重新计算
func (p *Pipeline) deliver(eff correlator.Effect, v models.Verdict, source string) {
	if !v.IsLLM {
		return
	}
	if eff.RemoteIP != "" && p.whitelist.ContainsIP(eff.RemoteIP) {
		logger.Log.Debugf("目的地址 %s 在白名单中，跳过告警", eff.RemoteIP)
		return
	}

	d := models.Detection{
		ID:         uuid.NewString(),
		RequestID:  eff.RequestID,
		URL:        eff.URL,
		Method:     eff.Method,
		Verdict:    v,
		Source:     source,
		RemoteIP:   eff.RemoteIP,
		DetectedAt: time.Now(),
	}
	if p.enricher != nil {
		p.enricher.Enrich(&d)
	}

	ctx, cancel := context.WithTimeout(p.ctx, p.sinkTimeout)
	defer cancel()
	metrics.Detections.WithLabelValues(source).Inc()
	p.sink.Handle(ctx, d)
}
