package cdp

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go-llmsentry/pkg/logger"
	"go-llmsentry/pkg/models"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

// Submitter 事件的下游
type Submitter interface {
	Submit(ev models.Event) bool
}

// Client 连接到已开启远程调试的浏览器，监听所有匹配标签页的网络事件
type Client struct {
	cdpURL      string
	tabFilter   string
	mapper      *Mapper
	sink        Submitter
	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabs        map[target.ID]context.CancelFunc
	tabsMu      sync.RWMutex
	done        chan struct{}
	closeOnce   sync.Once
}

func NewClient(cdpURL, tabFilter string, sink Submitter) *Client {
	return &Client{
		cdpURL:    cdpURL,
		tabFilter: tabFilter,
		mapper:    NewMapper(time.Now),
		sink:      sink,
		tabs:      make(map[target.ID]context.CancelFunc),
		done:      make(chan struct{}),
	}
}

func (c *Client) Connect(ctx context.Context) error {
	logger.Log.Infof("正在连接浏览器: %s", c.cdpURL)

	c.allocCtx, c.allocCancel = chromedp.NewRemoteAllocator(context.Background(), c.cdpURL)

	tempCtx, tempCancel := chromedp.NewContext(c.allocCtx)
	defer tempCancel()

	if err := chromedp.Run(tempCtx); err != nil {
		return fmt.Errorf("failed to connect to browser: %w", err)
	}

	targets, err := chromedp.Targets(tempCtx)
	if err != nil {
		return fmt.Errorf("failed to enumerate targets: %w", err)
	}

	attached := 0
	for _, t := range targets {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if t.Type != "page" {
			continue
		}
		if !c.matchesTabURL(t.URL) {
			logger.Log.Debugf("跳过标签页: %s", truncateURL(t.URL))
			continue
		}
		if err := c.attachToTab(t.TargetID, t.URL); err != nil {
			logger.Log.Errorf("连接标签页失败: target_id=%s, error=%v", t.TargetID, err)
			continue
		}
		attached++
	}

	if attached == 0 {
		return fmt.Errorf("no tabs found matching filter %q", c.tabFilter)
	}

	go c.cleanupLoop()

	logger.Log.Infof("已连接 %d 个标签页", attached)
	return nil
}

func (c *Client) attachToTab(targetID target.ID, url string) error {
	tabCtx, tabCancel := chromedp.NewContext(c.allocCtx, chromedp.WithTargetID(targetID))

	if err := chromedp.Run(tabCtx, network.Enable()); err != nil {
		tabCancel()
		return fmt.Errorf("failed to enable network domain: %w", err)
	}

	c.tabsMu.Lock()
	c.tabs[targetID] = tabCancel
	c.tabsMu.Unlock()

	chromedp.ListenTarget(tabCtx, c.createEventHandler(string(targetID)))
	logger.Log.Infof("已连接标签页: target_id=%s, url=%s", targetID, truncateURL(url))
	return nil
}

func (c *Client) createEventHandler(tabID string) func(ev interface{}) {
	return func(ev interface{}) {
		for _, out := range c.mapper.Map(tabID, ev) {
			c.sink.Submit(out)
		}
	}
}

func (c *Client) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := c.mapper.CleanupStale(5 * time.Minute); n > 0 {
				logger.Log.Debugf("清理过期请求记录 %d 条", n)
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)

		c.tabsMu.Lock()
		for _, cancel := range c.tabs {
			cancel()
		}
		c.tabs = make(map[target.ID]context.CancelFunc)
		c.tabsMu.Unlock()

		if c.allocCancel != nil {
			c.allocCancel()
		}
		logger.Log.Infof("CDP 连接已关闭")
	})
	return nil
}

func (c *Client) TabCount() int {
	c.tabsMu.RLock()
	defer c.tabsMu.RUnlock()
	return len(c.tabs)
}

func (c *Client) matchesTabURL(url string) bool {
	if c.tabFilter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(url), strings.ToLower(c.tabFilter))
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
