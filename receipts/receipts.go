// Package receipts renders signed PDF payment receipts for collaborations.
package receipts

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/phpdave11/gofpdf"
	"github.com/skip2/go-qrcode"
	"golang.org/x/crypto/hkdf"
)

type Receipt struct {
	CollaborationID string
	PaymentIntentID string
	UserName        string
	UserEmail       string
	MentorName      string
	Day             string
	Time            string
	StartDate       time.Time
	EndDate         *time.Time
	Price           float64
	Currency        string
	Cancelled       bool
	RefundAmount    int64
	IssuedAt        time.Time
}

type Renderer struct {
	secret []byte
}

// New derives the QR signing key from secret with HKDF.
func New(secret []byte) *Renderer {
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte("mentorly receipt qr")), key); err != nil {
		panic("receipts: derive key: " + err.Error())
	}
	return &Renderer{secret: key}
}

func (r *Renderer) sign(data string) string {
	h := hmac.New(sha256.New, r.secret)
	h.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// Payload returns collaborationId|paymentIntentId|issuedAt|signature, the
// string encoded into the receipt's QR code.
func (r *Renderer) Payload(rc Receipt) string {
	data := fmt.Sprintf("%s|%s|%d", rc.CollaborationID, rc.PaymentIntentID, rc.IssuedAt.Unix())
	return data + "|" + r.sign(data)
}

// Verify checks a QR payload produced by Payload.
func (r *Renderer) Verify(payload string) (collaborationID string, err error) {
	i := strings.LastIndex(payload, "|")
	if i < 0 {
		return "", errors.New("receipts: malformed payload")
	}
	data, sig := payload[:i], payload[i+1:]
	if !hmac.Equal([]byte(sig), []byte(r.sign(data))) {
		return "", errors.New("receipts: bad signature")
	}
	return strings.SplitN(data, "|", 2)[0], nil
}

func (r *Renderer) Render(rc Receipt) ([]byte, error) {
	if rc.IssuedAt.IsZero() {
		rc.IssuedAt = time.Now().UTC()
	}
	qrPNG, err := qrcode.Encode(r.Payload(rc), qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("receipts: qr: %w", err)
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(40, 10, "Mentorship Receipt")
	pdf.Ln(14)

	end := "-"
	if rc.EndDate != nil {
		end = rc.EndDate.Format("2006-01-02")
	}
	lines := []string{
		"Collaboration: " + rc.CollaborationID,
		"Payment: " + rc.PaymentIntentID,
		"Student: " + rc.UserName + " <" + rc.UserEmail + ">",
		"Mentor: " + rc.MentorName,
		fmt.Sprintf("Schedule: every %s at %s", rc.Day, rc.Time),
		fmt.Sprintf("Period: %s to %s", rc.StartDate.Format("2006-01-02"), end),
		fmt.Sprintf("Amount: %.2f %s", rc.Price, strings.ToUpper(rc.Currency)),
	}
	if rc.Cancelled {
		lines = append(lines, fmt.Sprintf("Cancelled, refunded %.2f %s", float64(rc.RefundAmount)/100, strings.ToUpper(rc.Currency)))
	}
	lines = append(lines, "Issued: "+rc.IssuedAt.Format(time.RFC1123))

	pdf.SetFont("Arial", "", 12)
	for _, l := range lines {
		pdf.Cell(0, 10, l)
		pdf.Ln(8)
	}

	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("qr", opts, bytes.NewReader(qrPNG))
	pdf.ImageOptions("qr", 150, 20, 40, 40, false, opts, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("receipts: pdf: %w", err)
	}
	return buf.Bytes(), nil
}
