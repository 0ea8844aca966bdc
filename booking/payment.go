package booking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"

	"mentorly/models"

	"github.com/google/uuid"
)

var (
	paymentKeySpace = uuid.MustParse("5b0d7c1e-3f4a-4a8e-9a57-4f1c2b9e6d10")
	refundKeySpace  = uuid.MustParse("c7e2a941-08b3-4d6f-b1a5-92e4f07c3d28")
)

// paymentIdempotencyKey is stable for one logical charge: the same request
// paid with the same method and amount always maps to the same key, while a
// retry with a different card gets a fresh one.
func paymentIdempotencyKey(requestID, methodID string, amount int64) string {
	return uuid.NewSHA1(paymentKeySpace, []byte(requestID+"|"+methodID+"|"+strconv.FormatInt(amount, 10))).String()
}

func refundIdempotencyKey(collaborationID string) string {
	return uuid.NewSHA1(refundKeySpace, []byte(collaborationID)).String()
}

type PaymentInput struct {
	RequestID       string `json:"-"`
	PaymentMethodID string `json:"paymentMethodId" validate:"required"`
	Amount          int64  `json:"amount" validate:"required,gt=0"`
	Email           string `json:"email" validate:"required,email"`
	ReturnURL       string `json:"returnUrl" validate:"omitempty,url"`
	StartDate       string `json:"startDate" validate:"required"`

	// Snapshot of the request as the payer saw it. Fields left empty are not compared.
	MentorID   string `json:"mentorId,omitempty"`
	Day        string `json:"day,omitempty"`
	TimeSlot   string `json:"timeSlot,omitempty"`
	TimePeriod int    `json:"timePeriod,omitempty"`
}

type PaymentResult struct {
	Status          string                `json:"status"`
	PaymentIntentID string                `json:"paymentIntentId"`
	Collaboration   *models.Collaboration `json:"collaboration,omitempty"`
}

func checkSnapshot(in PaymentInput, req *models.MentorRequest) error {
	switch {
	case in.MentorID != "" && in.MentorID != req.MentorID.ID:
		return invalid("mentorId", "does not match the request")
	case in.Day != "" && normalize(in.Day) != normalize(req.SelectedSlot.Day):
		return invalid("day", "does not match the request")
	case in.TimeSlot != "" && normalize(in.TimeSlot) != normalize(req.SelectedSlot.TimeSlots.First()):
		return invalid("timeSlot", "does not match the request")
	case in.TimePeriod != 0 && in.TimePeriod != req.TimePeriod:
		return invalid("timePeriod", "does not match the request")
	}
	return nil
}

func (s *Service) gatewayError(ctx context.Context, op string, err error) error {
	return &ExternalServiceError{
		Service: "payment gateway",
		Op:      op,
		Unknown: errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded),
		Err:     err,
	}
}

// PayForRequest charges the payer for an accepted request and, once the
// charge succeeds, books the collaboration in a single transaction.
func (s *Service) PayForRequest(ctx context.Context, actorID string, in PaymentInput) (*PaymentResult, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}
	start, err := parseDate(in.StartDate)
	if err != nil {
		return nil, invalid("startDate", err.Error())
	}
	req, err := s.loadRequest(ctx, in.RequestID)
	if err != nil {
		return nil, err
	}
	if actorID == "" || req.UserID.ID != actorID {
		return nil, ErrForbidden
	}
	if req.IsAccepted != models.RequestAccepted {
		return nil, ErrNotAccepted
	}
	if err := checkSnapshot(in, req); err != nil {
		return nil, err
	}
	if due := priceCents(req.Price); due > 0 && in.Amount != due {
		return nil, invalid("amount", fmt.Sprintf("must equal the price of %d", due))
	}
	day, t := req.SelectedSlot.Day, req.SelectedSlot.TimeSlots.First()
	if _, err := parseWeekday(day); err != nil {
		return nil, invalid("selectedSlot.day", err.Error())
	}
	if t == "" {
		return nil, invalid("selectedSlot.timeSlots", "no time selected")
	}
	if req.TimePeriod < 1 {
		return nil, invalid("timePeriod", "must be at least 1")
	}

	// Resolve everyone before money moves so nothing but the transaction can fail afterwards.
	p, err := s.resolveParties(ctx, req.UserID, req.MentorID)
	if err != nil {
		return nil, err
	}

	release, err := s.lock(ctx, "pay:request:"+in.RequestID)
	if err != nil {
		return nil, err
	}
	defer release()

	intent, err := s.charge(ctx, in)
	if err != nil {
		return nil, err
	}
	result := &PaymentResult{Status: intent.Status, PaymentIntentID: intent.ID}
	if intent.Status != models.PaymentIntentSucceeded {
		log.Printf("[payment] intent %s for request %s ended %q, nothing booked", intent.ID, in.RequestID, intent.Status)
		return result, nil
	}

	now := s.now()
	collab := &models.Collaboration{
		MentorID:             req.MentorID,
		UserID:               req.UserID,
		SelectedSlot:         []models.Slot{{Day: day, TimeSlots: []string{t}}},
		Price:                req.Price,
		Payment:              true,
		PaymentIntentID:      intent.ID,
		StartDate:            start,
		UnavailableDays:      []models.UnavailableDayRequest{},
		TemporarySlotChanges: []models.TemporarySlotChangeRequest{},
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	err = s.store.RunInTransaction(ctx, func(tx context.Context) error {
		end, err := EndDate(start, day, req.TimePeriod)
		if err != nil {
			return err
		}
		collab.EndDate = &end
		if err := s.store.InsertCollaboration(tx, collab); err != nil {
			return fmt.Errorf("insert collaboration: %w", err)
		}
		contacts := []models.Contact{
			{OwnerID: p.user.UserID, ContactID: p.mentor.UserID, CollaborationID: collab.CollaborationID, CreatedAt: now},
			{OwnerID: p.mentor.UserID, ContactID: p.user.UserID, CollaborationID: collab.CollaborationID, CreatedAt: now},
		}
		if err := s.store.InsertContacts(tx, contacts); err != nil {
			return fmt.Errorf("insert contacts: %w", err)
		}
		if err := s.store.DeleteMentorRequest(tx, in.RequestID); err != nil {
			return fmt.Errorf("delete mentor request: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, s.reconcilePayment(ctx, actorID, in, intent, err)
	}
	result.Collaboration = collab

	endLabel := collab.EndDate.Format(dateLayout)
	startLabel := start.Format(dateLayout)
	s.notify(ctx, p.user, models.NotifyPaymentSuccess, p.mentor.UserID, collab.CollaborationID,
		fmt.Sprintf("Payment received. Sessions with %s run %s to %s", displayName(p.mentor), startLabel, endLabel))
	s.notify(ctx, p.mentor, models.NotifyCollaborationCreated, p.user.UserID, collab.CollaborationID,
		fmt.Sprintf("%s booked %s sessions at %s", displayName(p.user), day, t))
	s.email(ctx, p.user, "Your mentorship is confirmed",
		fmt.Sprintf("Hi %s,\n\nYour payment was received. Collaboration %s with %s runs every %s at %s from %s to %s.\n",
			displayName(p.user), collab.CollaborationID, displayName(p.mentor), day, t, startLabel, endLabel))
	s.email(ctx, p.mentor, "New mentorship booked",
		fmt.Sprintf("Hi %s,\n\n%s paid for collaboration %s: every %s at %s from %s to %s.\n",
			displayName(p.mentor), displayName(p.user), collab.CollaborationID, day, t, startLabel, endLabel))
	return result, nil
}

func (s *Service) charge(ctx context.Context, in PaymentInput) (*models.PaymentIntent, error) {
	if s.gateway == nil {
		return nil, &ExternalServiceError{Service: "payment gateway", Op: "charge", Err: errors.New("not configured")}
	}
	gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	customerID, err := s.gateway.FindOrCreateCustomer(gctx, in.Email)
	if err != nil {
		return nil, s.gatewayError(gctx, "find or create customer", err)
	}
	intent, err := s.gateway.CreatePaymentIntent(gctx, models.PaymentIntentParams{
		Amount:          in.Amount,
		Currency:        s.cfg.Currency,
		CustomerID:      customerID,
		PaymentMethodID: in.PaymentMethodID,
		IdempotencyKey:  paymentIdempotencyKey(in.RequestID, in.PaymentMethodID, in.Amount),
		ReturnURL:       in.ReturnURL,
		Metadata:        map[string]string{"mentorRequestId": in.RequestID},
	})
	if err != nil {
		return nil, s.gatewayError(gctx, "create payment intent", err)
	}
	return intent, nil
}

// reconcilePayment escalates a booking transaction that failed after the
// charge went through.
func (s *Service) reconcilePayment(ctx context.Context, actorID string, in PaymentInput, intent *models.PaymentIntent, cause error) error {
	log.Printf("[RECONCILE] payment %s (amount %d) for request %s charged but booking failed: %v",
		intent.ID, in.Amount, in.RequestID, cause)
	rec := models.Reconciliation{
		Kind:            "payment",
		PaymentIntentID: intent.ID,
		RequestID:       in.RequestID,
		UserID:          actorID,
		Amount:          in.Amount,
		Error:           cause.Error(),
		CreatedAt:       s.now(),
	}
	if err := s.store.RecordReconciliation(context.WithoutCancel(ctx), rec); err != nil {
		log.Printf("[RECONCILE] could not record payment %s: %v", intent.ID, err)
	}
	return &ReconciliationError{PaymentIntentID: intent.ID, RequestID: in.RequestID, Err: cause}
}

// VerifyPayment fetches the current gateway state of a payment intent.
func (s *Service) VerifyPayment(ctx context.Context, intentID string) (*models.PaymentIntent, error) {
	if intentID == "" {
		return nil, invalid("paymentIntentId", "required")
	}
	if s.gateway == nil {
		return nil, &ExternalServiceError{Service: "payment gateway", Op: "retrieve payment intent", Err: errors.New("not configured")}
	}
	gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()
	pi, err := s.gateway.GetPaymentIntent(gctx, intentID)
	if err != nil {
		return nil, s.gatewayError(gctx, "retrieve payment intent", err)
	}
	return pi, nil
}
