package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go-llmsentry/pkg/metrics"
	"go-llmsentry/pkg/models"
)

const maxResponseBytes = 64 * 1024

// HTTPClient 调用外部分类服务，不重试
type HTTPClient struct {
	endpoint string
	timeout  time.Duration
	client   *http.Client
}

func NewHTTPClient(endpoint string, timeout time.Duration, client *http.Client) *HTTPClient {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPClient{endpoint: endpoint, timeout: timeout, client: client}
}

// Endpoint 分类服务地址，用于排除自身流量
func (c *HTTPClient) Endpoint() string {
	return c.endpoint
}

func (c *HTTPClient) Classify(ctx context.Context, record models.FeatureRecord) (models.Verdict, error) {
	start := time.Now()
	defer func() {
		metrics.ClassifierLatency.Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(record)
	if err != nil {
		return models.Verdict{}, fmt.Errorf("%w: encode record: %v", ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return models.Verdict{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return models.Verdict{}, fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
		}
		return models.Verdict{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return models.Verdict{}, fmt.Errorf("%w: status=%d", ErrUnavailable, resp.StatusCode)
	}

	var out struct {
		IsLLM      *bool    `json:"is_llm"`
		Confidence *float64 `json:"confidence"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		if isTimeout(ctx, err) {
			return models.Verdict{}, fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
		}
		return models.Verdict{}, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if out.IsLLM == nil || out.Confidence == nil {
		return models.Verdict{}, fmt.Errorf("%w: response missing is_llm or confidence", ErrUnavailable)
	}
	if *out.Confidence < 0 || *out.Confidence > 1 {
		return models.Verdict{}, fmt.Errorf("%w: confidence %v out of range", ErrUnavailable, *out.Confidence)
	}

	return models.Verdict{IsLLM: *out.IsLLM, Confidence: *out.Confidence}, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
