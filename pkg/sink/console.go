package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"go-llmsentry/pkg/models"

	"github.com/fatih/color"
)

const notificationTitle = "Possible LLM Traffic"

// ConsoleNotifier 终端内的桌面式通知
type ConsoleNotifier struct {
	mu    sync.Mutex
	out   io.Writer
	title *color.Color
	body  *color.Color
}

func NewConsoleNotifier(out io.Writer) *ConsoleNotifier {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleNotifier{
		out:   out,
		title: color.New(color.FgYellow, color.Bold),
		body:  color.New(color.FgWhite),
	}
}

func (n *ConsoleNotifier) Handle(_ context.Context, d models.Detection) {
	if !d.Verdict.IsLLM {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	// 写失败只影响通知本身
	_, _ = n.title.Fprintf(n.out, "⚠️  %s\n", notificationTitle)
	_, _ = n.body.Fprintln(n.out, Message(d))
}

// Message 通知正文：URL 与置信度
func Message(d models.Detection) string {
	return fmt.Sprintf("%s\nConfidence: %s", d.URL, FormatConfidence(d.Verdict.Confidence))
}
