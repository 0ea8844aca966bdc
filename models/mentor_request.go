package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type RequestStatus string

const (
	RequestPending  RequestStatus = "Pending"
	RequestAccepted RequestStatus = "Accepted"
	RequestRejected RequestStatus = "Rejected"
)

// FlexStrings accepts either a single string or an array of strings.
type FlexStrings []string

func (f *FlexStrings) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	raw := bson.RawValue{Type: t, Value: data}
	switch t {
	case bson.TypeString:
		*f = FlexStrings{raw.StringValue()}
	case bson.TypeArray:
		var out []string
		if err := raw.Unmarshal(&out); err != nil {
			return fmt.Errorf("models: decode time slots: %w", err)
		}
		*f = out
	case bson.TypeNull, bson.TypeUndefined:
		*f = nil
	default:
		return fmt.Errorf("models: unsupported time slots type %s", t)
	}
	return nil
}

func (f *FlexStrings) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = nil
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexStrings{s}
		return nil
	}
	var out []string
	if err := json.Unmarshal(b, &out); err != nil {
		return err
	}
	*f = out
	return nil
}

// First returns the canonical time of the slot. Additional entries are kept
// on the document but never booked.
func (f FlexStrings) First() string {
	if len(f) == 0 {
		return ""
	}
	return strings.TrimSpace(f[0])
}

type RequestSlot struct {
	Day       string      `json:"day" bson:"day"`
	TimeSlots FlexStrings `json:"timeSlots" bson:"timeSlots"`
}

type MentorRequest struct {
	ID            primitive.ObjectID `json:"_id" bson:"_id,omitempty"`
	MentorID      Ref                `json:"mentorId" bson:"mentorId"`
	UserID        Ref                `json:"userId" bson:"userId"`
	SelectedSlot  RequestSlot        `json:"selectedSlot" bson:"selectedSlot"`
	Price         float64            `json:"price" bson:"price"`
	TimePeriod    int                `json:"timePeriod" bson:"timePeriod"`
	PaymentStatus string             `json:"paymentStatus" bson:"paymentStatus"`
	IsAccepted    RequestStatus      `json:"isAccepted" bson:"isAccepted"`
	CreatedAt     time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt" bson:"updatedAt"`
}

// Slot is the booked form of a RequestSlot.
type Slot struct {
	Day       string   `json:"day" bson:"day"`
	TimeSlots []string `json:"timeSlots" bson:"timeSlots"`
}

// LockedSlot is a read model: the times already committed for one weekday.
type LockedSlot struct {
	Day       string   `json:"day"`
	TimeSlots []string `json:"timeSlots"`
}

type RequestFilter struct {
	MentorID string
	UserID   string
	Status   RequestStatus
}
