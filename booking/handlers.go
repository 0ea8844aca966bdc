package booking

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"mentorly/models"
	"mentorly/receipts"
	"mentorly/utils"

	"github.com/julienschmidt/httprouter"
)

const maxBody = 1 << 20

// Handlers exposes the booking flows over HTTP. Every route expects the
// authenticated user id in the request context.
type Handlers struct {
	svc      *Service
	receipts *receipts.Renderer
}

func NewHandlers(svc *Service, r *receipts.Renderer) *Handlers {
	return &Handlers{svc: svc, receipts: r}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return invalid("", "invalid JSON body")
	}
	return nil
}

// writeError maps domain errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var (
		verr  *ValidationError
		nerr  *NotFoundError
		cerr  *ConflictError
		xerr  *ExternalServiceError
		rcerr *ReconciliationError
	)
	switch {
	case errors.As(err, &verr):
		utils.RespondWithJSON(w, http.StatusBadRequest, utils.M{"error": verr.Error(), "field": verr.Field})
	case errors.As(err, &nerr):
		utils.RespondWithError(w, http.StatusNotFound, nerr.Error())
	case errors.As(err, &cerr):
		utils.RespondWithJSON(w, http.StatusConflict, utils.M{"error": cerr.Error(), "party": cerr.Party})
	case errors.Is(err, ErrForbidden):
		utils.RespondWithError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ErrBusy):
		w.Header().Set("Retry-After", "2")
		utils.RespondWithError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrNotAccepted),
		errors.Is(err, ErrDuplicateRequest), errors.Is(err, ErrAlreadyCancelled),
		errors.Is(err, ErrNotPaid), errors.Is(err, ErrCollaborationClosed),
		errors.Is(err, ErrAlreadyDecided), errors.Is(err, ErrFeedbackGiven):
		utils.RespondWithError(w, http.StatusConflict, err.Error())
	case errors.As(err, &rcerr):
		log.Printf("[RECONCILE] %v", rcerr)
		utils.RespondWithJSON(w, http.StatusInternalServerError, utils.M{
			"error":           "payment processed but booking could not be saved; support has been alerted",
			"code":            "reconciliation_required",
			"paymentIntentId": rcerr.PaymentIntentID,
		})
	case errors.As(err, &xerr):
		log.Printf("[payment] %v", xerr)
		body := utils.M{"error": "payment provider error"}
		if xerr.Unknown {
			body["code"] = "outcome_unknown"
		}
		utils.RespondWithJSON(w, http.StatusBadGateway, body)
	default:
		log.Printf("booking: %v", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "internal server error")
	}
}

// POST /api/mentor-requests
func (h *Handlers) CreateRequest(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var in CreateRequestInput
	if err := decode(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	req, err := h.svc.CreateMentorRequest(r.Context(), utils.GetUserIDFromRequest(r), in)
	if err != nil {
		writeError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, req)
}

// GET /api/mentor-requests?role=&status=
func (h *Handlers) ListRequests(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	q := r.URL.Query()
	reqs, err := h.svc.ListMentorRequests(r.Context(), utils.GetUserIDFromRequest(r), q.Get("role"), models.RequestStatus(q.Get("status")))
	if err != nil {
		writeError(w, err)
		return
	}
	if reqs == nil {
		reqs = []models.MentorRequest{}
	}
	utils.RespondWithJSON(w, http.StatusOK, reqs)
}

// PUT /api/mentor-requests/:id/accept
func (h *Handlers) AcceptRequest(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	req, err := h.svc.Accept(r.Context(), utils.GetUserIDFromRequest(r), ps.ByName("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, req)
}

// PUT /api/mentor-requests/:id/reject
func (h *Handlers) RejectRequest(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	req, err := h.svc.Reject(r.Context(), utils.GetUserIDFromRequest(r), ps.ByName("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, req)
}

// GET /api/mentors/:id/locked-slots
func (h *Handlers) LockedSlots(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	slots, err := h.svc.LockedSlots(r.Context(), ps.ByName("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"lockedSlots": slots})
}

// POST /api/mentor-requests/:id/pay
func (h *Handlers) Pay(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var in PaymentInput
	if err := decode(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	in.RequestID = ps.ByName("id")
	res, err := h.svc.PayForRequest(r.Context(), utils.GetUserIDFromRequest(r), in)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusCreated
	if res.Collaboration == nil {
		status = http.StatusPaymentRequired
	}
	utils.RespondWithJSON(w, status, res)
}

// GET /api/payments/:intentId
func (h *Handlers) VerifyPayment(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	pi, err := h.svc.VerifyPayment(r.Context(), ps.ByName("intentId"))
	if err != nil {
		writeError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, pi)
}

// GET /api/collaborations?role=
func (h *Handlers) ListCollaborations(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	out, err := h.svc.ListCollaborations(r.Context(), utils.GetUserIDFromRequest(r), r.URL.Query().Get("role"))
	if err != nil {
		writeError(w, err)
		return
	}
	if out == nil {
		out = []models.Collaboration{}
	}
	utils.RespondWithJSON(w, http.StatusOK, out)
}

// GET /api/collaborations/:id
func (h *Handlers) GetCollaboration(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	c, err := h.svc.GetCollaboration(r.Context(), utils.GetUserIDFromRequest(r), ps.ByName("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, c)
}

// POST /api/collaborations/:id/cancel
func (h *Handlers) Cancel(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var in CancelInput
	if err := decode(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.svc.Cancel(r.Context(), utils.GetUserIDFromRequest(r), ps.ByName("id"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, res)
}

// POST /api/collaborations/:id/unavailable-days
func (h *Handlers) RequestUnavailableDays(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var in UnavailableDaysInput
	if err := decode(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	req, err := h.svc.RequestUnavailableDays(r.Context(), utils.GetUserIDFromRequest(r), ps.ByName("id"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, req)
}

type decisionBody struct {
	Approve *bool `json:"approve"`
}

func decodeDecision(w http.ResponseWriter, r *http.Request) (bool, error) {
	var in decisionBody
	if err := decode(w, r, &in); err != nil {
		return false, err
	}
	if in.Approve == nil {
		return false, invalid("approve", "required")
	}
	return *in.Approve, nil
}

// PUT /api/collaborations/:id/unavailable-days/:reqId
func (h *Handlers) DecideUnavailableDays(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	approve, err := decodeDecision(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	c, err := h.svc.DecideUnavailableDays(r.Context(), utils.GetUserIDFromRequest(r), ps.ByName("id"), ps.ByName("reqId"), approve)
	if err != nil {
		writeError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, c)
}

// POST /api/collaborations/:id/slot-changes
func (h *Handlers) RequestSlotChange(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var in SlotChangeInput
	if err := decode(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	req, err := h.svc.RequestSlotChange(r.Context(), utils.GetUserIDFromRequest(r), ps.ByName("id"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, req)
}

// PUT /api/collaborations/:id/slot-changes/:reqId
func (h *Handlers) DecideSlotChange(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	approve, err := decodeDecision(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	c, err := h.svc.DecideSlotChange(r.Context(), utils.GetUserIDFromRequest(r), ps.ByName("id"), ps.ByName("reqId"), approve)
	if err != nil {
		writeError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, c)
}

// POST /api/collaborations/:id/feedback
func (h *Handlers) Feedback(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var in FeedbackInput
	if err := decode(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	c, err := h.svc.SubmitFeedback(r.Context(), utils.GetUserIDFromRequest(r), ps.ByName("id"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, c)
}

// GET /api/collaborations/:id/receipt
func (h *Handlers) Receipt(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	data, err := h.svc.Receipt(r.Context(), utils.GetUserIDFromRequest(r), ps.ByName("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	c := data.Collaboration
	var slot string
	if len(c.SelectedSlot) > 0 && len(c.SelectedSlot[0].TimeSlots) > 0 {
		slot = c.SelectedSlot[0].TimeSlots[0]
	}
	pdf, err := h.receipts.Render(receipts.Receipt{
		CollaborationID: c.CollaborationID,
		PaymentIntentID: c.PaymentIntentID,
		UserName:        displayName(data.User),
		UserEmail:       data.User.Email,
		MentorName:      displayName(data.Mentor),
		Day:             c.Day(),
		Time:            slot,
		StartDate:       c.StartDate,
		EndDate:         c.EndDate,
		Price:           c.Price,
		Currency:        data.Currency,
		Cancelled:       c.IsCancelled,
		RefundAmount:    c.RefundAmount,
		IssuedAt:        time.Now().UTC(),
	})
	if err != nil {
		writeError(w, fmt.Errorf("render receipt: %w", err))
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=receipt-%s.pdf", c.CollaborationID))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(pdf); err != nil {
		log.Printf("receipt write: %v", err)
	}
}
