// Package sink 消费检测结果并产生副作用（日志、通知、消息队列）。
package sink

import (
	"context"
	"fmt"

	"go-llmsentry/pkg/logger"
	"go-llmsentry/pkg/models"
)

// Sink 处理检测结果，不向外返回错误
type Sink interface {
	Handle(ctx context.Context, d models.Detection)
}

// Func 函数适配
type Func func(ctx context.Context, d models.Detection)

func (f Func) Handle(ctx context.Context, d models.Detection) { f(ctx, d) }

// Multi 依次调用所有 Sink，单个 Sink 的 panic 不影响其他 Sink
type Multi []Sink

func (m Multi) Handle(ctx context.Context, d models.Detection) {
	if !d.Verdict.IsLLM {
		return
	}
	for _, s := range m {
		safeHandle(ctx, s, d)
	}
}

func safeHandle(ctx context.Context, s Sink, d models.Detection) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Errorf("Sink处理异常: sink=%T, url=%s, panic=%v", s, d.URL, r)
		}
	}()
	s.Handle(ctx, d)
}

// FormatConfidence 置信度转为保留一位小数的百分比
func FormatConfidence(confidence float64) string {
	return fmt.Sprintf("%.1f%%", confidence*100)
}
