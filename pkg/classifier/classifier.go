// Package classifier 判定特征记录是否为LLM流量：本地关键字启发式或外部分类服务。
package classifier

import (
	"context"
	"errors"
	"fmt"

	"go-llmsentry/pkg/models"
)

var (
	// ErrUnavailable 外部分类服务调用失败：网络错误、非2xx、响应格式错误
	ErrUnavailable = errors.New("classifier unavailable")
	// ErrTimeout 在截止时间内没有响应
	ErrTimeout = errors.New("classifier timeout")
)

// Classifier 对单条特征记录给出判定
type Classifier interface {
	Classify(ctx context.Context, record models.FeatureRecord) (models.Verdict, error)
}

// Result 一次分类的结果，失败时 Err 非空
type Result struct {
	Record  models.FeatureRecord
	Verdict models.Verdict
	Source  string
	Err     error
}

// 分类模式
const (
	ModeHeuristic = "heuristic"
	ModeRemote    = "remote"
	ModeBoth      = "both"
)

// Chain 按模式组合启发式与外部分类服务
type Chain struct {
	mode      string
	heuristic *Heuristic
	remote    Classifier
}

func NewChain(mode string, heuristic *Heuristic, remote Classifier) (*Chain, error) {
	switch mode {
	case ModeHeuristic:
		if heuristic == nil {
			return nil, fmt.Errorf("mode %q requires a heuristic", mode)
		}
	case ModeRemote:
		if remote == nil {
			return nil, fmt.Errorf("mode %q requires a remote classifier", mode)
		}
	case ModeBoth:
		if heuristic == nil || remote == nil {
			return nil, fmt.Errorf("mode %q requires both classifiers", mode)
		}
	default:
		return nil, fmt.Errorf("unknown classifier mode %q", mode)
	}
	return &Chain{mode: mode, heuristic: heuristic, remote: remote}, nil
}

// Run 执行分类，heuristic 命中后不再调用外部服务
func (c *Chain) Run(ctx context.Context, record models.FeatureRecord) Result {
	res := Result{Record: record}

	if c.mode != ModeRemote {
		v, _ := c.heuristic.Classify(ctx, record)
		if v.IsLLM || c.mode == ModeHeuristic {
			res.Verdict = v
			res.Source = models.SourceHeuristic
			return res
		}
	}

	v, err := c.remote.Classify(ctx, record)
	res.Verdict = v
	res.Source = models.SourceClassifier
	res.Err = err
	return res
}

// Classify 实现 Classifier
func (c *Chain) Classify(ctx context.Context, record models.FeatureRecord) (models.Verdict, error) {
	res := c.Run(ctx, record)
	return res.Verdict, res.Err
}

// Mode 当前模式
func (c *Chain) Mode() string {
	return c.mode
}
