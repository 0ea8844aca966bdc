package receipts

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func sample() Receipt {
	end := time.Date(2024, 1, 29, 0, 0, 0, 0, time.UTC)
	return Receipt{
		CollaborationID: "COL-20240101-000042",
		PaymentIntentID: "pi_123",
		UserName:        "Ada",
		UserEmail:       "ada@example.com",
		MentorName:      "Grace",
		Day:             "Monday",
		Time:            "10:00 AM",
		StartDate:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:         &end,
		Price:           120,
		Currency:        "usd",
		IssuedAt:        time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC),
	}
}

func TestPayloadVerifies(t *testing.T) {
	r := New([]byte("secret"))
	p := r.Payload(sample())
	id, err := r.Verify(p)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id != "COL-20240101-000042" {
		t.Fatalf("got id %q", id)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	r := New([]byte("secret"))
	p := r.Payload(sample())
	tampered := strings.Replace(p, "pi_123", "pi_999", 1)
	if _, err := r.Verify(tampered); err == nil {
		t.Fatal("expected tampered payload to fail")
	}
	if _, err := New([]byte("other")).Verify(p); err == nil {
		t.Fatal("expected payload signed with another key to fail")
	}
	if _, err := r.Verify("no-separator"); err == nil {
		t.Fatal("expected malformed payload to fail")
	}
}

func TestRenderProducesPDF(t *testing.T) {
	out, err := New([]byte("secret")).Render(sample())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !bytes.HasPrefix(out, []byte("%PDF")) {
		t.Fatalf("output is not a PDF: %q", out[:min(len(out), 8)])
	}
}
