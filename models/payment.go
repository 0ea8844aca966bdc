package models

import "time"

const PaymentIntentSucceeded = "succeeded"

type PaymentIntentParams struct {
	Amount          int64
	Currency        string
	CustomerID      string
	PaymentMethodID string
	IdempotencyKey  string
	ReturnURL       string
	Metadata        map[string]string
}

type PaymentIntent struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type RefundParams struct {
	PaymentIntentID string
	Amount          int64
	Reason          string
	IdempotencyKey  string
	Metadata        map[string]string
}

type Refund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount int64  `json:"amount"`
}

// Reconciliation marks a charge or refund whose booking write never landed.
type Reconciliation struct {
	Kind            string    `json:"kind" bson:"kind"`
	PaymentIntentID string    `json:"paymentIntentId" bson:"paymentIntentId"`
	RefundID        string    `json:"refundId,omitempty" bson:"refundId,omitempty"`
	RequestID       string    `json:"requestId,omitempty" bson:"requestId,omitempty"`
	CollaborationID string    `json:"collaborationId,omitempty" bson:"collaborationId,omitempty"`
	UserID          string    `json:"userId" bson:"userId"`
	Amount          int64     `json:"amount" bson:"amount"`
	Error           string    `json:"error" bson:"error"`
	Resolved        bool      `json:"resolved" bson:"resolved"`
	CreatedAt       time.Time `json:"createdAt" bson:"createdAt"`
}

// IdempotencyRecord stores the first response of a mutating request keyed by
// the client's Idempotency-Key header.
type IdempotencyRecord struct {
	Key         string                 `bson:"key"`
	Method      string                 `bson:"method"`
	Path        string                 `bson:"path"`
	UserID      string                 `bson:"userid"`
	RequestHash string                 `bson:"request_hash"`
	Response    map[string]interface{} `bson:"response,omitempty"`
	CreatedAt   time.Time              `bson:"created_at"`
	ExpiresAt   time.Time              `bson:"expires_at"`
}
