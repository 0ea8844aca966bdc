// Package stripe adapts the Stripe API to the booking payment gateway.
package stripe

import (
	"context"
	"fmt"
	"strings"

	"mentorly/models"

	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

type Gateway struct {
	sc *client.API
}

func NewGateway(secretKey string) *Gateway {
	return &Gateway{sc: client.New(secretKey, nil)}
}

// FindOrCreateCustomer reuses the first customer registered under email.
func (g *Gateway) FindOrCreateCustomer(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	lp := &stripego.CustomerListParams{Email: stripego.String(email)}
	lp.Context = ctx
	lp.Limit = stripego.Int64(1)
	it := g.sc.Customers.List(lp)
	for it.Next() {
		return it.Customer().ID, nil
	}
	if err := it.Err(); err != nil {
		return "", fmt.Errorf("list customers: %w", err)
	}

	cp := &stripego.CustomerParams{Email: stripego.String(email)}
	cp.Context = ctx
	cp.SetIdempotencyKey("customer-" + email)
	c, err := g.sc.Customers.New(cp)
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}
	return c.ID, nil
}

// CreatePaymentIntent creates and confirms an intent in one call.
func (g *Gateway) CreatePaymentIntent(ctx context.Context, p models.PaymentIntentParams) (*models.PaymentIntent, error) {
	params := intentParams(p)
	params.Context = ctx
	pi, err := g.sc.PaymentIntents.New(params)
	if err != nil {
		return nil, err
	}
	return toIntent(pi), nil
}

func (g *Gateway) GetPaymentIntent(ctx context.Context, id string) (*models.PaymentIntent, error) {
	params := &stripego.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.sc.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, err
	}
	return toIntent(pi), nil
}

func (g *Gateway) CreateRefund(ctx context.Context, p models.RefundParams) (*models.Refund, error) {
	params := refundParams(p)
	params.Context = ctx
	r, err := g.sc.Refunds.New(params)
	if err != nil {
		return nil, err
	}
	return &models.Refund{ID: r.ID, Status: string(r.Status), Amount: r.Amount}, nil
}

// intentParams confirms immediately. Without a return URL redirect-based
// methods are disabled.
func intentParams(p models.PaymentIntentParams) *stripego.PaymentIntentParams {
	params := &stripego.PaymentIntentParams{
		Amount:        stripego.Int64(p.Amount),
		Currency:      stripego.String(p.Currency),
		Customer:      stripego.String(p.CustomerID),
		PaymentMethod: stripego.String(p.PaymentMethodID),
		Confirm:       stripego.Bool(true),
	}
	if p.ReturnURL != "" {
		params.ReturnURL = stripego.String(p.ReturnURL)
	} else {
		params.AutomaticPaymentMethods = &stripego.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripego.Bool(true),
			AllowRedirects: stripego.String("never"),
		}
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}
	return params
}

func refundParams(p models.RefundParams) *stripego.RefundParams {
	params := &stripego.RefundParams{
		PaymentIntent: stripego.String(p.PaymentIntentID),
		Amount:        stripego.Int64(p.Amount),
	}
	if p.Reason != "" {
		params.Reason = stripego.String(p.Reason)
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}
	return params
}

func toIntent(pi *stripego.PaymentIntent) *models.PaymentIntent {
	return &models.PaymentIntent{
		ID:       pi.ID,
		Status:   string(pi.Status),
		Amount:   pi.Amount,
		Currency: string(pi.Currency),
	}
}
