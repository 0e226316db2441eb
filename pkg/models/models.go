package models

import (
	"errors"
	"time"
)

var (
	// ErrMalformedEvent 拦截层送来的事件缺少必要字段
	ErrMalformedEvent = errors.New("malformed event")
	// ErrStaleCorrelation 完成事件找不到对应的待关联请求
	ErrStaleCorrelation = errors.New("stale correlation")
)

// RequestID 由拦截层分配的请求标识，单个逻辑请求内唯一
type RequestID string

// Header 单个HTTP头
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// BodyPart 请求体分片，Bytes 为空时使用 Size
type BodyPart struct {
	Bytes []byte `json:"bytes,omitempty"`
	Size  int64  `json:"size,omitempty"`
}

// Event 拦截层事件（begin / header / complete）
type Event interface {
	ID() RequestID
	Kind() string
}

// BeginEvent 请求发出前
type BeginEvent struct {
	RequestID   RequestID  `json:"request_id"`
	Method      string     `json:"method"`
	URL         string     `json:"url"`
	RequestBody []BodyPart `json:"request_body,omitempty"`
}

// HeaderEvent 收到响应头
type HeaderEvent struct {
	RequestID       RequestID `json:"request_id"`
	ResponseHeaders []Header  `json:"response_headers"`
}

// CompleteEvent 请求完成
type CompleteEvent struct {
	RequestID       RequestID `json:"request_id"`
	URL             string    `json:"url"`
	Method          string    `json:"method"`
	ResponseHeaders []Header  `json:"response_headers"`
	ResponseSize    int64     `json:"response_size"`
	StatusCode      int       `json:"status_code,omitempty"`
	RemoteIP        string    `json:"remote_ip,omitempty"`
}

func (e BeginEvent) ID() RequestID    { return e.RequestID }
func (e BeginEvent) Kind() string     { return "begin" }
func (e HeaderEvent) ID() RequestID   { return e.RequestID }
func (e HeaderEvent) Kind() string    { return "header" }
func (e CompleteEvent) ID() RequestID { return e.RequestID }
func (e CompleteEvent) Kind() string  { return "complete" }

// PendingRequest begin 事件时记录的部分元数据，只由待关联表持有
type PendingRequest struct {
	RequestID       RequestID
	Method          string
	URL             string
	RequestBodySize int64
	ObservedAt      time.Time
}

// FeatureRecord 单个逻辑请求的特征，字段名与分类服务的请求体一致
type FeatureRecord struct {
	IsPost                bool   `json:"is_post"`
	RequestContentLength  int64  `json:"request_content_length"`
	ResponseContentLength int64  `json:"response_content_length"`
	ResponseContentSize   int64  `json:"response_content_size"`
	HasContentLength      bool   `json:"has_content_length"`
	URLPath               string `json:"url_text"`
}

// Verdict 分类结果
type Verdict struct {
	IsLLM      bool    `json:"is_llm"`
	Confidence float64 `json:"confidence"`
}

// 判定来源
const (
	SourceHeuristic   = "heuristic"
	SourceContentType = "content-type"
	SourceClassifier  = "classifier"
)

// Detection 交给 Sink 的检测事件
type Detection struct {
	ID         string    `json:"id"`
	RequestID  RequestID `json:"request_id"`
	URL        string    `json:"url"`
	Method     string    `json:"method"`
	Verdict    Verdict   `json:"verdict"`
	Source     string    `json:"source"`
	RemoteIP   string    `json:"remote_ip,omitempty"`
	Country    string    `json:"country,omitempty"`
	ASN        uint      `json:"asn,omitempty"`
	ASOrg      string    `json:"as_org,omitempty"`
	DetectedAt time.Time `json:"detected_at"`
}
