package cdp

import (
	"encoding/base64"
	"testing"
	"time"

	"go-llmsentry/pkg/correlator"
	"go-llmsentry/pkg/models"

	"github.com/chromedp/cdproto/network"
)

func TestMapperRequestLifecycle(t *testing.T) {
	m := NewMapper(nil)

	out := m.Map("tab1", &network.EventRequestWillBeSent{
		RequestID: "42",
		Request: &network.Request{
			URL:         "https://llm.example.com/v1/chat",
			Method:      "POST",
			HasPostData: true,
			PostDataEntries: []*network.PostDataEntry{
				{Bytes: base64.StdEncoding.EncodeToString([]byte("hello"))},
				{Bytes: base64.StdEncoding.EncodeToString([]byte(" world"))},
			},
		},
	})
	if len(out) != 1 {
		t.Fatalf("got %d events; want 1", len(out))
	}
	begin, ok := out[0].(models.BeginEvent)
	if !ok {
		t.Fatalf("got %T; want BeginEvent", out[0])
	}
	if begin.RequestID != "tab1:42" {
		t.Errorf("request id = %q; want %q", begin.RequestID, "tab1:42")
	}
	var size int
	for _, p := range begin.RequestBody {
		size += len(p.Bytes)
	}
	if size != 11 {
		t.Errorf("body size = %d; want 11", size)
	}

	out = m.Map("tab1", &network.EventResponseReceived{
		RequestID: "42",
		Response: &network.Response{
			Status:          200,
			RemoteIPAddress: "203.0.113.7",
			Headers: network.Headers{
				"content-type":   "text/event-stream",
				"content-length": "300",
				"x-numeric":      12,
			},
		},
	})
	header, ok := out[0].(models.HeaderEvent)
	if !ok {
		t.Fatalf("got %T; want HeaderEvent", out[0])
	}
	if len(header.ResponseHeaders) != 2 {
		t.Fatalf("headers = %v; want 2 string headers", header.ResponseHeaders)
	}
	if header.ResponseHeaders[0].Name != "content-length" || header.ResponseHeaders[1].Name != "content-type" {
		t.Errorf("headers not sorted: %v", header.ResponseHeaders)
	}

	out = m.Map("tab1", &network.EventLoadingFinished{RequestID: "42", EncodedDataLength: 512})
	if len(out) != 1 {
		t.Fatalf("got %d events; want 1", len(out))
	}
	complete := out[0].(models.CompleteEvent)
	if complete.URL != "https://llm.example.com/v1/chat" || complete.Method != "POST" {
		t.Errorf("complete = %+v", complete)
	}
	if complete.ResponseSize != 512 || complete.StatusCode != 200 || complete.RemoteIP != "203.0.113.7" {
		t.Errorf("complete = %+v", complete)
	}
	if len(complete.ResponseHeaders) != 2 {
		t.Errorf("complete headers = %v", complete.ResponseHeaders)
	}
	if m.Len() != 0 {
		t.Errorf("meta len = %d; want 0", m.Len())
	}
}

func TestMapperRedirect(t *testing.T) {
	m := NewMapper(nil)
	c := correlator.New(correlator.Options{ThrottleWindow: 500 * time.Millisecond})

	var events []models.Event
	events = append(events, m.Map("t", &network.EventRequestWillBeSent{
		RequestID: "1",
		Request:   &network.Request{URL: "http://a.test/", Method: "GET"},
	})...)
	out := m.Map("t", &network.EventRequestWillBeSent{
		RequestID:        "1",
		Request:          &network.Request{URL: "https://a.test/", Method: "GET"},
		RedirectResponse: &network.Response{Status: 307, EncodedDataLength: 20},
	})
	if len(out) != 2 {
		t.Fatalf("got %d events; want 2", len(out))
	}
	prev, ok := out[0].(models.CompleteEvent)
	if !ok || prev.RequestID != "t:1" || prev.URL != "http://a.test/" || prev.StatusCode != 307 || prev.ResponseSize != 20 {
		t.Errorf("redirect complete = %+v", out[0])
	}
	next, ok := out[1].(models.BeginEvent)
	if !ok || next.RequestID != "t:1#1" || next.URL != "https://a.test/" {
		t.Errorf("redirect begin = %+v", out[1])
	}
	events = append(events, out...)
	events = append(events, m.Map("t", &network.EventResponseReceived{
		RequestID: "1",
		Response:  &network.Response{Status: 200, Headers: network.Headers{"content-length": "64"}},
	})...)
	events = append(events, m.Map("t", &network.EventLoadingFinished{RequestID: "1", EncodedDataLength: 64})...)

	emits := make(map[models.RequestID]int)
	for _, ev := range events {
		if eff := c.Handle(ev); eff.Kind == correlator.EffectEmit {
			emits[eff.RequestID]++
		}
	}
	want := map[models.RequestID]int{"t:1": 1, "t:1#1": 1}
	if len(emits) != len(want) {
		t.Fatalf("emits per request id = %v; want %v", emits, want)
	}
	for id, n := range want {
		if emits[id] != n {
			t.Errorf("request %s emitted %d times; want %d", id, emits[id], n)
		}
	}
	if m.Len() != 0 {
		t.Errorf("meta len = %d; want 0", m.Len())
	}
}

func TestMapperRedirectChain(t *testing.T) {
	m := NewMapper(nil)
	urls := []string{"http://a.test/", "https://a.test/", "https://a.test/login", "https://a.test/home"}
	var ids []models.RequestID
	for i, u := range urls {
		ev := &network.EventRequestWillBeSent{
			RequestID: "9",
			Request:   &network.Request{URL: u, Method: "GET"},
		}
		if i > 0 {
			ev.RedirectResponse = &network.Response{Status: 302}
		}
		for _, out := range m.Map("t", ev) {
			if b, ok := out.(models.BeginEvent); ok {
				ids = append(ids, b.RequestID)
			}
		}
	}
	want := []models.RequestID{"t:9", "t:9#1", "t:9#2", "t:9#3"}
	if len(ids) != len(want) {
		t.Fatalf("begin ids = %v; want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("hop %d id = %q; want %q", i, ids[i], want[i])
		}
	}

	out := m.Map("t", &network.EventLoadingFinished{RequestID: "9"})
	if len(out) != 1 || out[0].ID() != "t:9#3" {
		t.Errorf("finish = %+v; want last hop t:9#3", out)
	}
}

func TestMapperUnknownAndFailed(t *testing.T) {
	m := NewMapper(nil)
	if out := m.Map("t", &network.EventLoadingFinished{RequestID: "x"}); out != nil {
		t.Errorf("unknown finish produced %v", out)
	}

	m.Map("t", &network.EventRequestWillBeSent{
		RequestID: "2",
		Request:   &network.Request{URL: "https://a.test/", Method: "GET"},
	})
	m.Map("t", &network.EventLoadingFailed{RequestID: "2"})
	if m.Len() != 0 {
		t.Errorf("meta len = %d; want 0 after failure", m.Len())
	}
	if out := m.Map("t", "unrelated"); out != nil {
		t.Errorf("unrelated event produced %v", out)
	}
}

func TestMapperCleanupStale(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := NewMapper(func() time.Time { return now })

	m.Map("t", &network.EventRequestWillBeSent{
		RequestID: "old",
		Request:   &network.Request{URL: "https://a.test/", Method: "GET"},
	})
	now = now.Add(10 * time.Minute)
	m.Map("t", &network.EventRequestWillBeSent{
		RequestID: "new",
		Request:   &network.Request{URL: "https://a.test/", Method: "GET"},
	})

	if n := m.CleanupStale(5 * time.Minute); n != 1 {
		t.Errorf("removed %d; want 1", n)
	}
	if m.Len() != 1 {
		t.Errorf("meta len = %d; want 1", m.Len())
	}
}

func TestMatchesTabURL(t *testing.T) {
	c := NewClient("http://127.0.0.1:9222", "Chat", nil)
	if !c.matchesTabURL("https://CHAT.example.com/") {
		t.Error("filter should be case-insensitive")
	}
	if c.matchesTabURL("https://mail.example.com/") {
		t.Error("filter should reject non-matching tab")
	}
}
