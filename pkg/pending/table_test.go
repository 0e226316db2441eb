package pending

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"go-llmsentry/pkg/models"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock { return &fakeClock{t: time.Unix(1700000000, 0)} }

func TestTakeAndRemove(t *testing.T) {
	clock := newClock()
	table := New(30*time.Second, clock.Now)

	if err := table.Put(models.PendingRequest{RequestID: "r1", Method: "POST", RequestBodySize: 120}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, ok := table.TakeAndRemove("r1")
	if !ok {
		t.Fatal("expected entry r1")
	}
	if got.Method != "POST" || got.RequestBodySize != 120 {
		t.Fatalf("entry = %+v", got)
	}
	if !got.ObservedAt.Equal(clock.Now()) {
		t.Fatalf("ObservedAt = %v; want %v", got.ObservedAt, clock.Now())
	}

	if _, ok := table.TakeAndRemove("r1"); ok {
		t.Fatal("entry must be consumed by the first take")
	}
	if table.Len() != 0 {
		t.Fatalf("Len() = %d; want 0", table.Len())
	}
}

func TestPutDuplicateReplaces(t *testing.T) {
	table := New(time.Minute, nil)

	if err := table.Put(models.PendingRequest{RequestID: "r1", Method: "GET"}); err != nil {
		t.Fatalf("first Put() error = %v", err)
	}
	err := table.Put(models.PendingRequest{RequestID: "r1", Method: "POST"})
	if !errors.Is(err, ErrDuplicateRequest) {
		t.Fatalf("second Put() error = %v; want ErrDuplicateRequest", err)
	}

	got, ok := table.Peek("r1")
	if !ok || got.Method != "POST" {
		t.Fatalf("Peek() = %+v, %v; want replaced POST entry", got, ok)
	}
}

func TestExpiredEntryIsAbsent(t *testing.T) {
	clock := newClock()
	table := New(30*time.Second, clock.Now)

	_ = table.Put(models.PendingRequest{RequestID: "r1"})
	clock.Advance(31 * time.Second)

	if _, ok := table.Peek("r1"); ok {
		t.Fatal("Peek() returned an expired entry")
	}
	if _, ok := table.TakeAndRemove("r1"); ok {
		t.Fatal("TakeAndRemove() returned an expired entry")
	}
	if table.Len() != 0 {
		t.Fatalf("expired entry not removed, Len() = %d", table.Len())
	}
}

func TestSweepBoundsMemory(t *testing.T) {
	clock := newClock()
	table := New(30*time.Second, clock.Now)

	// 持续只有 begin 没有 complete
	for i := 0; i < 10000; i++ {
		_ = table.Put(models.PendingRequest{RequestID: models.RequestID(fmt.Sprintf("r%d", i))})
		if i%100 == 99 {
			clock.Advance(time.Second)
			table.Sweep()
		}
	}

	// 每秒 100 条，保留 30 秒
	if n := table.Len(); n > 3100 {
		t.Fatalf("Len() = %d; pending table grew beyond the retention window", n)
	}

	clock.Advance(time.Minute)
	if evicted := table.Sweep(); evicted == 0 {
		t.Fatal("expected Sweep() to evict stale entries")
	}
	if table.Len() != 0 {
		t.Fatalf("Len() = %d; want 0", table.Len())
	}
}
