// Package api 浏览器插件上报拦截事件的 HTTP 接口。
package api

import (
	"context"
	"net/http"

	"go-llmsentry/pkg/models"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Service 事件接收方（analyzer.Pipeline）
type Service interface {
	Submit(ev models.Event) bool
	QueueDepth() int
	Pending() int
}

func NewServer(svc Service) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("LLM Sentry Ingest API", "1.0.0")
	api := humachi.New(router, cfg)

	router.Handle("/metrics", promhttp.Handler())

	registerEventHandlers(api, svc)
	registerMiscHandlers(api, svc)

	return router
}

func submit(svc Service, ev models.Event) (*acceptedOutput, error) {
	if !svc.Submit(ev) {
		return nil, huma.Error503ServiceUnavailable("event queue full")
	}
	out := &acceptedOutput{}
	out.Body.Accepted = true
	return out, nil
}

type acceptedOutput struct {
	Body struct {
		Accepted bool `json:"accepted"`
	}
}

type headerInput struct {
	Name  string `json:"name" minLength:"1"`
	Value string `json:"value"`
}

type bodyPartInput struct {
	Bytes []byte `json:"bytes,omitempty"`
	Size  int64  `json:"size,omitempty" minimum:"0"`
}

func toHeaders(in []headerInput) []models.Header {
	if len(in) == 0 {
		return nil
	}
	out := make([]models.Header, len(in))
	for i, h := range in {
		out[i] = models.Header{Name: h.Name, Value: h.Value}
	}
	return out
}

func toBodyParts(in []bodyPartInput) []models.BodyPart {
	if len(in) == 0 {
		return nil
	}
	out := make([]models.BodyPart, len(in))
	for i, p := range in {
		out[i] = models.BodyPart{Bytes: p.Bytes, Size: p.Size}
	}
	return out
}

func registerEventHandlers(api huma.API, svc Service) {
	type beginInput struct {
		Body struct {
			RequestID   string          `json:"request_id" minLength:"1"`
			Method      string          `json:"method" minLength:"1"`
			URL         string          `json:"url" minLength:"1"`
			RequestBody []bodyPartInput `json:"request_body,omitempty"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "event-begin", Method: http.MethodPost, Path: "/api/v1/events/begin", Summary: "Report a request about to be sent", Tags: []string{"Events"}, DefaultStatus: http.StatusAccepted},
		func(ctx context.Context, input *beginInput) (*acceptedOutput, error) {
			return submit(svc, models.BeginEvent{
				RequestID:   models.RequestID(input.Body.RequestID),
				Method:      input.Body.Method,
				URL:         input.Body.URL,
				RequestBody: toBodyParts(input.Body.RequestBody),
			})
		})

	type headerEventInput struct {
		Body struct {
			RequestID       string        `json:"request_id" minLength:"1"`
			ResponseHeaders []headerInput `json:"response_headers,omitempty"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "event-header", Method: http.MethodPost, Path: "/api/v1/events/header", Summary: "Report received response headers", Tags: []string{"Events"}, DefaultStatus: http.StatusAccepted},
		func(ctx context.Context, input *headerEventInput) (*acceptedOutput, error) {
			return submit(svc, models.HeaderEvent{
				RequestID:       models.RequestID(input.Body.RequestID),
				ResponseHeaders: toHeaders(input.Body.ResponseHeaders),
			})
		})

	type completeInput struct {
		Body struct {
			RequestID       string        `json:"request_id" minLength:"1"`
			URL             string        `json:"url" minLength:"1"`
			Method          string        `json:"method,omitempty"`
			ResponseHeaders []headerInput `json:"response_headers,omitempty"`
			ResponseSize    int64         `json:"response_size,omitempty" minimum:"0"`
			StatusCode      int           `json:"status_code,omitempty"`
			RemoteIP        string        `json:"remote_ip,omitempty"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "event-complete", Method: http.MethodPost, Path: "/api/v1/events/complete", Summary: "Report a completed request", Tags: []string{"Events"}, DefaultStatus: http.StatusAccepted},
		func(ctx context.Context, input *completeInput) (*acceptedOutput, error) {
			return submit(svc, models.CompleteEvent{
				RequestID:       models.RequestID(input.Body.RequestID),
				URL:             input.Body.URL,
				Method:          input.Body.Method,
				ResponseHeaders: toHeaders(input.Body.ResponseHeaders),
				ResponseSize:    input.Body.ResponseSize,
				StatusCode:      input.Body.StatusCode,
				RemoteIP:        input.Body.RemoteIP,
			})
		})
}

func registerMiscHandlers(api huma.API, svc Service) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})

	type statsOutput struct {
		Body struct {
			QueueDepth int `json:"queue_depth"`
			Pending    int `json:"pending"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "stats", Method: http.MethodGet, Path: "/api/v1/stats", Summary: "Pipeline queue and correlation table sizes", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*statsOutput, error) {
			out := &statsOutput{}
			out.Body.QueueDepth = svc.QueueDepth()
			out.Body.Pending = svc.Pending()
			return out, nil
		})
}
