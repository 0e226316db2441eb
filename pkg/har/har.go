// Package har 把浏览器导出的 HAR 文件回放成拦截事件，用于离线检测。
package har

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go-llmsentry/pkg/logger"
	"go-llmsentry/pkg/models"
)

// Processor 同步处理事件（analyzer.Pipeline），回放不经过有界队列以免丢事件
type Processor interface {
	ProcessWait(ev models.Event)
}

type nameValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type harFile struct {
	Log struct {
		Entries []entry `json:"entries"`
	} `json:"log"`
}

type entry struct {
	ServerIPAddress string `json:"serverIPAddress"`
	Request         struct {
		Method   string      `json:"method"`
		URL      string      `json:"url"`
		Headers  []nameValue `json:"headers"`
		BodySize int64       `json:"bodySize"`
		PostData *struct {
			Text string `json:"text"`
		} `json:"postData"`
	} `json:"request"`
	Response struct {
		Status  int         `json:"status"`
		Headers []nameValue `json:"headers"`
		Content struct {
			Size int64 `json:"size"`
		} `json:"content"`
	} `json:"response"`
}

// Load 解析单个 HAR 文件，返回每个条目对应的 begin/header/complete 事件
func Load(path string) ([]models.Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f harFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	base := filepath.Base(path)
	events := make([]models.Event, 0, len(f.Log.Entries)*3)
	for i, e := range f.Log.Entries {
		if e.Request.URL == "" {
			continue
		}
		events = append(events, entryEvents(models.RequestID(fmt.Sprintf("har:%s:%d", base, i)), e)...)
	}
	return events, nil
}

func entryEvents(id models.RequestID, e entry) []models.Event {
	reqHeaders := toHeaders(e.Request.Headers)
	respHeaders := toHeaders(e.Response.Headers)

	return []models.Event{
		models.BeginEvent{
			RequestID:   id,
			Method:      e.Request.Method,
			URL:         e.Request.URL,
			RequestBody: requestBody(e, reqHeaders),
		},
		models.HeaderEvent{
			RequestID:       id,
			ResponseHeaders: respHeaders,
		},
		models.CompleteEvent{
			RequestID:       id,
			URL:             e.Request.URL,
			Method:          e.Request.Method,
			ResponseHeaders: respHeaders,
			ResponseSize:    e.Response.Content.Size,
			StatusCode:      e.Response.Status,
			RemoteIP:        strings.Trim(e.ServerIPAddress, "[]"),
		},
	}
}

// requestBody 优先使用 postData，其次 bodySize，最后请求头里的 content-length
func requestBody(e entry, headers []models.Header) []models.BodyPart {
	if e.Request.PostData != nil && e.Request.PostData.Text != "" {
		return []models.BodyPart{{Size: int64(len(e.Request.PostData.Text))}}
	}
	if e.Request.BodySize > 0 {
		return []models.BodyPart{{Size: e.Request.BodySize}}
	}
	for _, h := range headers {
		if strings.EqualFold(h.Name, "content-length") {
			if n, err := strconv.ParseInt(strings.TrimSpace(h.Value), 10, 64); err == nil && n > 0 {
				return []models.BodyPart{{Size: n}}
			}
		}
	}
	return nil
}

func toHeaders(in []nameValue) []models.Header {
	out := make([]models.Header, 0, len(in))
	for _, h := range in {
		out = append(out, models.Header{Name: strings.ToLower(h.Name), Value: h.Value})
	}
	return out
}

// Files path 为目录时返回其中所有 .har 文件（按名称排序）
func Files(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	matches, err := filepath.Glob(filepath.Join(path, "*.har"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// Replay 回放 path（文件或目录）中的所有条目，返回回放的条目数
func Replay(ctx context.Context, path string, p Processor) (int, error) {
	files, err := Files(path)
	if err != nil {
		return 0, err
	}
	logger.Log.Infof("发现 %d 个HAR文件: %s", len(files), path)

	total := 0
	for i, file := range files {
		events, err := Load(file)
		if err != nil {
			// 单个文件损坏不影响其他文件
			logger.Log.Errorf("读取HAR文件失败: %v", err)
			continue
		}
		for _, ev := range events {
			if err := ctx.Err(); err != nil {
				return total, err
			}
			p.ProcessWait(ev)
			if ev.Kind() == "complete" {
				total++
			}
		}
		logger.Log.Infof("[%02d/%d] 已回放 %s", i+1, len(files), filepath.Base(file))
	}
	logger.Log.Infof("HAR回放完成，共 %d 条请求", total)
	return total, nil
}
