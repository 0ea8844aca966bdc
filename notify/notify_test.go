package notify

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"mentorly/models"
)

type recorder struct {
	mu  sync.Mutex
	got map[string][][]byte
}

func (r *recorder) Push(userID string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.got == nil {
		r.got = make(map[string][][]byte)
	}
	r.got[userID] = append(r.got[userID], data)
}

func TestNotifyWithoutRedisPushesLocally(t *testing.T) {
	rec := &recorder{}
	s := NewService(nil, nil, rec)
	err := s.Notify(context.Background(), models.Notification{
		UserID: "u1",
		Type:   models.NotifyRequestAccepted,
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(rec.got["u1"]) != 1 {
		t.Fatalf("expected one push for u1, got %d", len(rec.got["u1"]))
	}
	var n models.Notification
	if err := json.Unmarshal(rec.got["u1"][0], &n); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n.Type != models.NotifyRequestAccepted || n.ID.IsZero() {
		t.Fatalf("unexpected payload %+v", n)
	}
}

func TestDeliverDropsMalformedPayloads(t *testing.T) {
	rec := &recorder{}
	s := NewService(nil, nil, rec)
	s.deliver([]byte("not json"))
	s.deliver([]byte(`{"type":"x"}`))
	s.deliver([]byte(`{"userId":"u2","type":"x"}`))
	if len(rec.got) != 1 || len(rec.got["u2"]) != 1 {
		t.Fatalf("unexpected deliveries %v", rec.got)
	}
}

func TestBuildMessageStripsHeaderBreaks(t *testing.T) {
	msg := string(buildMessage("a@x.io", "b@x.io", "Hi\r\nBcc: evil@x.io", "body"))
	if strings.Contains(msg, "\r\nBcc:") {
		t.Fatalf("subject injected a header: %q", msg)
	}
	if !strings.HasSuffix(msg, "\r\n\r\nbody") {
		t.Fatalf("body not separated from headers: %q", msg)
	}
}
