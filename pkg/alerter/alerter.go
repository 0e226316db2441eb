package alerter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go-llmsentry/pkg/logger"
	"go-llmsentry/pkg/metrics"
	"go-llmsentry/pkg/models"
	"go-llmsentry/pkg/sink"
)

// DetectionStore 检测事件持久化
type DetectionStore interface {
	SaveDetection(ctx context.Context, d models.Detection) error
	RecentDetections(ctx context.Context, since time.Time) ([]models.Detection, error)
}

// Alerter 告警处理器，同一目的主机在冷却期内只告警一次
type Alerter struct {
	store             DetectionStore
	webhookURL        string
	client            *http.Client
	alertHistory      map[string]time.Time // 目的主机 -> 最后告警时间
	alertHistoryMu    sync.RWMutex
	alertCooldownTime time.Duration
	now               func() time.Time
	done              chan struct{}
	closeOnce         sync.Once
}

var _ sink.Sink = (*Alerter)(nil)

// NewAlerter 创建告警处理器；store 可以为 nil
func NewAlerter(store DetectionStore, webhookURL string, cooldown time.Duration) *Alerter {
	if cooldown <= 0 {
		cooldown = 10 * time.Minute
	}
	a := &Alerter{
		store:             store,
		webhookURL:        webhookURL,
		client:            &http.Client{Timeout: 5 * time.Second},
		alertHistory:      make(map[string]time.Time),
		alertCooldownTime: cooldown,
		now:               time.Now,
		done:              make(chan struct{}),
	}

	// 从数据库加载最近一个冷却期的告警记录
	if err := a.loadRecentAlerts(context.Background()); err != nil {
		logger.Log.Errorf("加载最近告警记录失败: %v", err)
	}

	go a.cleanupLoop()

	return a
}

func (a *Alerter) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Minute) // 每分钟清理一次
	defer ticker.Stop()

	for {
		select {
		case <-a.done:
			return
		case <-ticker.C:
			a.CleanupOldHistory()
			logger.Log.Debugf("已完成告警历史清理，当前记录数: %d", a.HistoryLen())
		}
	}
}

// Close 停止清理任务
func (a *Alerter) Close() {
	a.closeOnce.Do(func() { close(a.done) })
}

func (a *Alerter) loadRecentAlerts(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	recent, err := a.store.RecentDetections(ctx, a.now().Add(-a.alertCooldownTime))
	if err != nil {
		return err
	}

	a.alertHistoryMu.Lock()
	defer a.alertHistoryMu.Unlock()

	for _, d := range recent {
		key := alertKey(d.URL)
		if last, ok := a.alertHistory[key]; !ok || d.DetectedAt.After(last) {
			a.alertHistory[key] = d.DetectedAt
		}
	}

	logger.Log.Infof("已加载 %d 条最近告警记录", len(a.alertHistory))
	return nil
}

// alertKey 告警去重键：目的主机（小写）
func alertKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return strings.ToLower(u.Host)
}

// Handle 实现 sink.Sink
func (a *Alerter) Handle(ctx context.Context, d models.Detection) {
	if err := a.TriggerAlert(ctx, d); err != nil {
		logger.Log.Errorf("触发告警失败: url=%s, error=%v", d.URL, err)
	}
}

// TriggerAlert 触发告警
func (a *Alerter) TriggerAlert(ctx context.Context, d models.Detection) error {
	key := alertKey(d.URL)

	a.alertHistoryMu.RLock()
	lastAlertTime, exists := a.alertHistory[key]
	a.alertHistoryMu.RUnlock()

	now := a.now()
	if exists && now.Sub(lastAlertTime) < a.alertCooldownTime {
		logger.Log.Infof("主机 %s 在冷却期内，跳过告警", key)
		return nil
	}

	if a.store != nil {
		if err := a.store.SaveDetection(ctx, d); err != nil {
			logger.Log.Errorf("保存告警记录失败: %v", err)
			return err
		}
	}

	if a.webhookURL != "" {
		if err := a.sendAlertNotification(ctx, d); err != nil {
			logger.Log.Errorf("发送告警通知失败: %v", err)
			return err
		}
	}

	a.alertHistoryMu.Lock()
	a.alertHistory[key] = now
	a.alertHistoryMu.Unlock()

	metrics.AlertsTriggered.Inc()
	logger.Log.Infof("成功触发告警: 主机=%s, 置信度=%s", key, sink.FormatConfidence(d.Verdict.Confidence))
	return nil
}

type alertPayload struct {
	Timestamp  time.Time `json:"timestamp"`
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Method     string    `json:"method"`
	Confidence float64   `json:"confidence"`
	Source     string    `json:"source"`
	RemoteIP   string    `json:"remote_ip,omitempty"`
	Country    string    `json:"country,omitempty"`
	ASOrg      string    `json:"as_org,omitempty"`
	Message    string    `json:"message"`
}

func (a *Alerter) sendAlertNotification(ctx context.Context, d models.Detection) error {
	alert := alertPayload{
		Timestamp:  d.DetectedAt,
		ID:         d.ID,
		URL:        d.URL,
		Method:     d.Method,
		Confidence: d.Verdict.Confidence,
		Source:     d.Source,
		RemoteIP:   d.RemoteIP,
		Country:    d.Country,
		ASOrg:      d.ASOrg,
		Message:    sink.Message(d),
	}

	jsonData, err := json.Marshal(alert)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.webhookURL, bytes.NewReader(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook 返回状态码 %d", resp.StatusCode)
	}
	return nil
}

// CleanupOldHistory 清理过期的告警历史
func (a *Alerter) CleanupOldHistory() {
	a.alertHistoryMu.Lock()
	defer a.alertHistoryMu.Unlock()

	now := a.now()
	for key, lastAlertTime := range a.alertHistory {
		if now.Sub(lastAlertTime) > a.alertCooldownTime {
			delete(a.alertHistory, key)
		}
	}
}

func (a *Alerter) HistoryLen() int {
	a.alertHistoryMu.RLock()
	defer a.alertHistoryMu.RUnlock()
	return len(a.alertHistory)
}
