package consumer

import (
	"context"
	"sync"
	"testing"

	"go-llmsentry/pkg/models"

	"github.com/IBM/sarama"
)

type fakeSession struct {
	sarama.ConsumerGroupSession
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Context() context.Context { return s.ctx }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

type recordingSubmitter struct {
	events []models.Event
}

func (r *recordingSubmitter) Submit(ev models.Event) bool {
	r.events = append(r.events, ev)
	return true
}

func TestConsumeClaimDecodesEvents(t *testing.T) {
	sub := &recordingSubmitter{}
	c := newConsumer(nil, sub)

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 4)}
	claim.messages <- &sarama.ConsumerMessage{Offset: 1, Value: []byte(`{"type":"begin","request_id":"r1","method":"POST","url":"https://x.test/chat"}`)}
	claim.messages <- &sarama.ConsumerMessage{Offset: 2, Value: []byte(`garbage`)}
	claim.messages <- &sarama.ConsumerMessage{Offset: 3, Value: []byte(`{"type":"complete","request_id":"r1","url":"https://x.test/chat","method":"POST","response_size":4}`)}
	close(claim.messages)

	session := &fakeSession{ctx: context.Background()}
	if err := c.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}

	if len(sub.events) != 2 {
		t.Fatalf("submitted %d events; want 2", len(sub.events))
	}
	if sub.events[0].Kind() != "begin" || sub.events[1].Kind() != "complete" {
		t.Errorf("kinds = %q, %q", sub.events[0].Kind(), sub.events[1].Kind())
	}
	// 解析失败的消息同样提交位移
	if len(session.marked) != 3 {
		t.Errorf("marked %d messages; want 3", len(session.marked))
	}
}

func TestConsumeClaimStopsOnSessionDone(t *testing.T) {
	c := newConsumer(nil, &recordingSubmitter{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage)}
	if err := c.ConsumeClaim(&fakeSession{ctx: ctx}, claim); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
}

func TestSetupClosesReady(t *testing.T) {
	c := newConsumer(nil, &recordingSubmitter{})
	if err := c.Setup(nil); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	select {
	case <-c.ready:
	default:
		t.Error("ready channel not closed")
	}
}
