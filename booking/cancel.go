package booking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"

	"mentorly/models"
)

type CancelInput struct {
	RefundAmount int64  `json:"refundAmount" validate:"gte=0"`
	Reason       string `json:"reason" validate:"max=1000"`
}

type CancelResult struct {
	Collaboration     *models.Collaboration `json:"collaboration"`
	Refunded          bool                  `json:"refunded"`
	RefundID          string                `json:"refundId,omitempty"`
	NeedsManualRefund bool                  `json:"needsManualRefund"`
}

// priceCents converts the stored price to the gateway's minor unit.
func priceCents(price float64) int64 {
	return int64(math.Round(price * 100))
}

// Cancel ends a paid collaboration. The refund, when one is due, is issued
// before anything is written so that a failed refund leaves the collaboration
// untouched.
func (s *Service) Cancel(ctx context.Context, actorID, collabID string, in CancelInput) (*CancelResult, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}
	c, err := s.loadCollaboration(ctx, collabID)
	if err != nil {
		return nil, err
	}
	p, err := s.resolveParties(ctx, c.UserID, c.MentorID)
	if err != nil {
		return nil, err
	}
	side, err := p.sideOf(actorID)
	if err != nil {
		return nil, err
	}

	release, err := s.lock(ctx, "cancel:collab:"+collabID)
	if err != nil {
		return nil, err
	}
	defer release()

	// Re-read under the lock; a concurrent cancel may have just committed.
	c, err = s.loadCollaboration(ctx, collabID)
	if err != nil {
		return nil, err
	}
	switch {
	case c.IsCancelled:
		return nil, ErrAlreadyCancelled
	case !c.Payment:
		return nil, ErrNotPaid
	}
	if _, err := s.CompleteIfDue(ctx, c); err != nil {
		return nil, err
	}
	if c.IsCompleted {
		return nil, ErrCollaborationClosed
	}
	if limit := priceCents(c.Price); limit > 0 && in.RefundAmount > limit {
		return nil, invalid("refundAmount", fmt.Sprintf("cannot exceed the price of %d", limit))
	}

	now := s.now()
	cancel := models.Cancellation{At: now, By: actorID, Reason: in.Reason}
	switch {
	case c.PaymentIntentID == "":
		cancel.NeedsManualRefund = true
		log.Printf("[payment] collaboration %s cancelled without a payment intent, manual refund needed", c.CollaborationID)
	case in.RefundAmount > 0:
		refund, err := s.refund(ctx, c, in)
		if err != nil {
			return nil, err
		}
		cancel.RefundID = refund.ID
		cancel.RefundAmount = refund.Amount
		if cancel.RefundAmount == 0 {
			cancel.RefundAmount = in.RefundAmount
		}
	}

	err = s.store.RunInTransaction(ctx, func(tx context.Context) error {
		ok, err := s.store.MarkCancelled(tx, collabID, cancel)
		if err != nil {
			return fmt.Errorf("mark cancelled: %w", err)
		}
		if !ok {
			return ErrCollaborationClosed
		}
		if _, err := s.store.DeleteContacts(tx, c.CollaborationID); err != nil {
			return fmt.Errorf("delete contacts: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrCollaborationClosed) && s.cancelledBy(ctx, collabID, cancel.RefundID) {
			return nil, ErrAlreadyCancelled
		}
		if cancel.RefundID != "" {
			return nil, s.reconcileRefund(ctx, actorID, c, cancel, err)
		}
		return nil, err
	}

	c.IsCancelled = true
	c.CancelledAt = &now
	c.CancelledBy = actorID
	c.CancellationReason = in.Reason
	c.RefundID = cancel.RefundID
	c.RefundAmount = cancel.RefundAmount
	c.NeedsManualRefund = cancel.NeedsManualRefund
	c.UpdatedAt = now

	var refundNote string
	switch {
	case cancel.RefundID != "":
		refundNote = fmt.Sprintf("A refund of %.2f %s was issued.", float64(cancel.RefundAmount)/100, s.cfg.Currency)
	case cancel.NeedsManualRefund:
		refundNote = "Any refund will be processed manually by support."
	default:
		refundNote = "No refund was issued."
	}
	canceller, other := p.of(side), p.of(side.Other())
	s.notify(ctx, other, models.NotifyCancelled, actorID, c.CollaborationID,
		fmt.Sprintf("%s cancelled collaboration %s. %s", displayName(canceller), c.CollaborationID, refundNote))
	s.notify(ctx, canceller, models.NotifyCancelled, actorID, c.CollaborationID,
		fmt.Sprintf("You cancelled collaboration %s. %s", c.CollaborationID, refundNote))
	for _, to := range []*models.Profile{p.user, p.mentor} {
		s.email(ctx, to, "Collaboration cancelled",
			fmt.Sprintf("Hi %s,\n\nCollaboration %s between %s and %s was cancelled by %s.\n%s\n",
				displayName(to), c.CollaborationID, displayName(p.user), displayName(p.mentor), displayName(canceller), refundNote))
	}

	return &CancelResult{
		Collaboration:     c,
		Refunded:          cancel.RefundID != "",
		RefundID:          cancel.RefundID,
		NeedsManualRefund: cancel.NeedsManualRefund,
	}, nil
}

// cancelledBy reports whether a rejected cancellation lost to another one that
// carries the same refund, or to any cancellation when no refund was issued.
func (s *Service) cancelledBy(ctx context.Context, collabID, refundID string) bool {
	cur, err := s.loadCollaboration(ctx, collabID)
	if err != nil {
		log.Printf("[payment] re-read collaboration %s after rejected cancel: %v", collabID, err)
		return false
	}
	return cur.IsCancelled && (refundID == "" || cur.RefundID == refundID)
}

func (s *Service) refund(ctx context.Context, c *models.Collaboration, in CancelInput) (*models.Refund, error) {
	if s.gateway == nil {
		return nil, &ExternalServiceError{Service: "payment gateway", Op: "refund", Err: errors.New("not configured")}
	}
	gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()
	meta := map[string]string{
		"collaborationId": c.CollaborationID,
		"userId":          c.UserID.ID,
		"mentorId":        c.MentorID.ID,
	}
	if in.Reason != "" {
		meta["cancellationReason"] = in.Reason
	}
	r, err := s.gateway.CreateRefund(gctx, models.RefundParams{
		PaymentIntentID: c.PaymentIntentID,
		Amount:          in.RefundAmount,
		Reason:          "requested_by_customer",
		IdempotencyKey:  refundIdempotencyKey(c.CollaborationID),
		Metadata:        meta,
	})
	if err != nil {
		return nil, s.gatewayError(gctx, "refund", err)
	}
	return r, nil
}

func (s *Service) reconcileRefund(ctx context.Context, actorID string, c *models.Collaboration, cancel models.Cancellation, cause error) error {
	log.Printf("[RECONCILE] refund %s (amount %d) for collaboration %s issued but cancellation failed: %v",
		cancel.RefundID, cancel.RefundAmount, c.CollaborationID, cause)
	rec := models.Reconciliation{
		Kind:            "refund",
		PaymentIntentID: c.PaymentIntentID,
		RefundID:        cancel.RefundID,
		CollaborationID: c.CollaborationID,
		UserID:          actorID,
		Amount:          cancel.RefundAmount,
		Error:           cause.Error(),
		CreatedAt:       s.now(),
	}
	if err := s.store.RecordReconciliation(context.WithoutCancel(ctx), rec); err != nil {
		log.Printf("[RECONCILE] could not record refund %s: %v", cancel.RefundID, err)
	}
	return &ReconciliationError{
		PaymentIntentID: c.PaymentIntentID,
		RefundID:        cancel.RefundID,
		CollaborationID: c.CollaborationID,
		Err:             cause,
	}
}
