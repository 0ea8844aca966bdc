package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type NotificationType string

const (
	NotifyRequestReceived      NotificationType = "mentor_request_received"
	NotifyRequestAccepted      NotificationType = "mentor_request_accepted"
	NotifyRequestRejected      NotificationType = "mentor_request_rejected"
	NotifyPaymentSuccess       NotificationType = "payment_success"
	NotifyCollaborationCreated NotificationType = "collaboration_created"
	NotifyCancelled            NotificationType = "collaboration_cancelled"
	NotifyUnavailableRequested NotificationType = "unavailable_days_requested"
	NotifyUnavailableApproved  NotificationType = "unavailable_days_approved"
	NotifyUnavailableRejected  NotificationType = "unavailable_days_rejected"
	NotifySlotChangeRequested  NotificationType = "slot_change_requested"
	NotifySlotChangeApproved   NotificationType = "slot_change_approved"
	NotifySlotChangeRejected   NotificationType = "slot_change_rejected"
)

type Notification struct {
	ID            primitive.ObjectID `json:"_id" bson:"_id,omitempty"`
	UserID        string             `json:"userId" bson:"userId"`
	Type          NotificationType   `json:"type" bson:"type"`
	SenderID      string             `json:"senderId" bson:"senderId"`
	RelatedID     string             `json:"relatedId" bson:"relatedId"`
	ContentType   string             `json:"contentType,omitempty" bson:"contentType,omitempty"`
	CallID        string             `json:"callId,omitempty" bson:"callId,omitempty"`
	CallType      string             `json:"callType,omitempty" bson:"callType,omitempty"`
	CustomContent string             `json:"customContent,omitempty" bson:"customContent,omitempty"`
	IsRead        bool               `json:"isRead" bson:"isRead"`
	CreatedAt     time.Time          `json:"createdAt" bson:"createdAt"`
}
