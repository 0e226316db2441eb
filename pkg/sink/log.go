package sink

import (
	"context"

	"go-llmsentry/pkg/logger"
	"go-llmsentry/pkg/models"
)

// LogSink 写一条告警级别日志
type LogSink struct{}

func (LogSink) Handle(_ context.Context, d models.Detection) {
	if !d.Verdict.IsLLM {
		return
	}
	logger.Log.Warnw("检测到LLM流量",
		"url", d.URL,
		"method", d.Method,
		"confidence", FormatConfidence(d.Verdict.Confidence),
		"source", d.Source,
		"request_id", d.RequestID,
		"remote_ip", d.RemoteIP,
		"country", d.Country,
		"as_org", d.ASOrg,
	)
}
