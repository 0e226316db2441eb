// Package features 从 begin/complete 事件数据生成固定结构的特征记录。
package features

import (
	"net/url"
	"strconv"
	"strings"

	"go-llmsentry/pkg/models"
)

// Extract 合并 begin 时的部分元数据与完成事件，partial 为 nil 时使用默认值
func Extract(partial *models.PendingRequest, ev models.CompleteEvent) models.FeatureRecord {
	method := ""
	var reqSize int64
	if partial != nil {
		method = partial.Method
		reqSize = partial.RequestBodySize
	}
	if reqSize < 0 {
		reqSize = 0
	}

	var respLen int64
	raw, hasLen := HeaderValue(ev.ResponseHeaders, "content-length")
	if hasLen {
		if n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil && n > 0 {
			respLen = n
		}
	}

	respSize := ev.ResponseSize
	if respSize < 0 {
		respSize = 0
	}

	return models.FeatureRecord{
		IsPost:                method == "POST",
		RequestContentLength:  reqSize,
		ResponseContentLength: respLen,
		ResponseContentSize:   respSize,
		HasContentLength:      hasLen,
		URLPath:               Path(ev.URL),
	}
}

// Path 只保留URL的路径部分
func Path(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "/"
	}
	p := u.EscapedPath()
	if p == "" {
		return "/"
	}
	return p
}

// HeaderValue 大小写不敏感地查找第一个同名头
func HeaderValue(headers []models.Header, name string) (string, bool) {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// BodySize 累加请求体各分片的字节数
func BodySize(parts []models.BodyPart) int64 {
	var total int64
	for _, part := range parts {
		if part.Bytes != nil {
			total += int64(len(part.Bytes))
			continue
		}
		if part.Size > 0 {
			total += part.Size
		}
	}
	return total
}
