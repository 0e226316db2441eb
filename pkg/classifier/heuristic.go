package classifier

import (
	"context"
	"strings"

	"go-llmsentry/pkg/models"
)

// Heuristic URL路径关键字匹配，命中时置信度固定为 1.0
type Heuristic struct {
	keywords []string
}

func NewHeuristic(keywords []string) *Heuristic {
	h := &Heuristic{}
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			h.keywords = append(h.keywords, k)
		}
	}
	return h
}

// Match 对任意URL或路径做关键字匹配
func (h *Heuristic) Match(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, k := range h.keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

func (h *Heuristic) Classify(_ context.Context, record models.FeatureRecord) (models.Verdict, error) {
	if h.Match(record.URLPath) {
		return models.Verdict{IsLLM: true, Confidence: 1.0}, nil
	}
	return models.Verdict{}, nil
}

// ContentTypeMatcher 关键字命中的请求再由响应 content-type 确认（流式或JSON响应）
type ContentTypeMatcher struct {
	heuristic    *Heuristic
	contentTypes []string
}

func NewContentTypeMatcher(heuristic *Heuristic, contentTypes []string) *ContentTypeMatcher {
	m := &ContentTypeMatcher{heuristic: heuristic}
	for _, ct := range contentTypes {
		ct = strings.ToLower(strings.TrimSpace(ct))
		if ct != "" {
			m.contentTypes = append(m.contentTypes, ct)
		}
	}
	return m
}

// Match 返回是否确认为LLM流量
func (m *ContentTypeMatcher) Match(rawURL string, headers []models.Header) bool {
	if m.heuristic == nil || !m.heuristic.Match(rawURL) {
		return false
	}
	for _, h := range headers {
		if !strings.EqualFold(h.Name, "content-type") {
			continue
		}
		value := strings.ToLower(strings.TrimSpace(h.Value))
		for _, ct := range m.contentTypes {
			if strings.HasPrefix(value, ct) {
				return true
			}
		}
		return false
	}
	return false
}
