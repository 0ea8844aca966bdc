package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Side names which participant of a collaboration acted.
type Side string

const (
	SideUser   Side = "user"
	SideMentor Side = "mentor"
)

func (s Side) Other() Side {
	if s == SideUser {
		return SideMentor
	}
	return SideUser
}

type UnavailableDate struct {
	Date   time.Time `json:"date" bson:"date"`
	Reason string    `json:"reason,omitempty" bson:"reason,omitempty"`
}

type UnavailableDayRequest struct {
	ID           string            `json:"id" bson:"id"`
	Dates        []UnavailableDate `json:"datesAndReasons" bson:"datesAndReasons"`
	RequestedBy  Side              `json:"requestedBy" bson:"requestedBy"`
	RequesterID  string            `json:"requesterId" bson:"requesterId"`
	ApprovedByID string            `json:"approvedById,omitempty" bson:"approvedById,omitempty"`
	IsApproved   ApprovalStatus    `json:"isApproved" bson:"isApproved"`
	CreatedAt    time.Time         `json:"createdAt" bson:"createdAt"`
	DecidedAt    *time.Time        `json:"decidedAt,omitempty" bson:"decidedAt,omitempty"`
}

type SlotChangeDate struct {
	Date         time.Time `json:"date" bson:"date"`
	NewTimeSlots []string  `json:"newTimeSlots" bson:"newTimeSlots"`
}

type TemporarySlotChangeRequest struct {
	ID           string           `json:"id" bson:"id"`
	Dates        []SlotChangeDate `json:"datesAndNewSlots" bson:"datesAndNewSlots"`
	RequestedBy  Side             `json:"requestedBy" bson:"requestedBy"`
	RequesterID  string           `json:"requesterId" bson:"requesterId"`
	ApprovedByID string           `json:"approvedById,omitempty" bson:"approvedById,omitempty"`
	IsApproved   ApprovalStatus   `json:"isApproved" bson:"isApproved"`
	CreatedAt    time.Time        `json:"createdAt" bson:"createdAt"`
	DecidedAt    *time.Time       `json:"decidedAt,omitempty" bson:"decidedAt,omitempty"`
}

type Feedback struct {
	Rating    int       `json:"rating" bson:"rating"`
	Comment   string    `json:"comment,omitempty" bson:"comment,omitempty"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

type Collaboration struct {
	ID                   primitive.ObjectID           `json:"_id" bson:"_id,omitempty"`
	CollaborationID      string                       `json:"collaborationId" bson:"collaborationId"`
	MentorID             Ref                          `json:"mentorId" bson:"mentorId"`
	UserID               Ref                          `json:"userId" bson:"userId"`
	SelectedSlot         []Slot                       `json:"selectedSlot" bson:"selectedSlot"`
	Price                float64                      `json:"price" bson:"price"`
	Payment              bool                         `json:"payment" bson:"payment"`
	PaymentIntentID      string                       `json:"paymentIntentId,omitempty" bson:"paymentIntentId,omitempty"`
	IsCancelled          bool                         `json:"isCancelled" bson:"isCancelled"`
	IsCompleted          bool                         `json:"isCompleted" bson:"isCompleted"`
	StartDate            time.Time                    `json:"startDate" bson:"startDate"`
	EndDate              *time.Time                   `json:"endDate,omitempty" bson:"endDate,omitempty"`
	FeedbackGiven        bool                         `json:"feedbackGiven" bson:"feedbackGiven"`
	Feedback             *Feedback                    `json:"feedback,omitempty" bson:"feedback,omitempty"`
	UnavailableDays      []UnavailableDayRequest      `json:"unavailableDays" bson:"unavailableDays"`
	TemporarySlotChanges []TemporarySlotChangeRequest `json:"temporarySlotChanges" bson:"temporarySlotChanges"`

	CancelledAt        *time.Time `json:"cancelledAt,omitempty" bson:"cancelledAt,omitempty"`
	CancelledBy        string     `json:"cancelledBy,omitempty" bson:"cancelledBy,omitempty"`
	CancellationReason string     `json:"cancellationReason,omitempty" bson:"cancellationReason,omitempty"`
	RefundID           string     `json:"refundId,omitempty" bson:"refundId,omitempty"`
	RefundAmount       int64      `json:"refundAmount,omitempty" bson:"refundAmount,omitempty"`
	NeedsManualRefund  bool       `json:"needsManualRefund,omitempty" bson:"needsManualRefund,omitempty"`
	CompletedAt        *time.Time `json:"completedAt,omitempty" bson:"completedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Day returns the recurring weekday label of the collaboration.
func (c *Collaboration) Day() string {
	if len(c.SelectedSlot) == 0 {
		return ""
	}
	return c.SelectedSlot[0].Day
}

func (c *Collaboration) Active() bool {
	return c.Payment && !c.IsCancelled && !c.IsCompleted
}

func (c *Collaboration) UnavailableRequest(id string) *UnavailableDayRequest {
	for i := range c.UnavailableDays {
		if c.UnavailableDays[i].ID == id {
			return &c.UnavailableDays[i]
		}
	}
	return nil
}

func (c *Collaboration) SlotChangeRequest(id string) *TemporarySlotChangeRequest {
	for i := range c.TemporarySlotChanges {
		if c.TemporarySlotChanges[i].ID == id {
			return &c.TemporarySlotChanges[i]
		}
	}
	return nil
}

// Contact authorizes chat from OwnerID to ContactID for the lifetime of a collaboration.
type Contact struct {
	ID              primitive.ObjectID `json:"_id" bson:"_id,omitempty"`
	OwnerID         string             `json:"userId" bson:"userId"`
	ContactID       string             `json:"contactId" bson:"contactId"`
	CollaborationID string             `json:"collaborationId" bson:"collaborationId"`
	CreatedAt       time.Time          `json:"createdAt" bson:"createdAt"`
}

type CollaborationFilter struct {
	MentorID string
	UserID   string
}

// Cancellation is the terminal state written when a collaboration is cancelled.
type Cancellation struct {
	At                time.Time
	By                string
	Reason            string
	RefundID          string
	RefundAmount      int64
	NeedsManualRefund bool
}

// Decision records the outcome of a reschedule sub-request.
type Decision struct {
	Status       ApprovalStatus
	ApprovedByID string
	At           time.Time
}
