package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrNotFound is returned by stores and directories when a document does not exist.
var ErrNotFound = errors.New("not found")

// Profile is the slice of a user or mentor that the booking flows need.
type Profile struct {
	ID     string `json:"id" bson:"-"`
	UserID string `json:"userId,omitempty" bson:"userId,omitempty"`
	Name   string `json:"name" bson:"name"`
	Email  string `json:"email" bson:"email"`
}

// Ref points at a user or mentor. Stored documents carry these references as a
// plain string id, an ObjectID or a fully inlined document; all three decode
// into the same value and are always written back as the string id.
type Ref struct {
	ID      string
	Profile *Profile
}

func NewRef(id string) Ref { return Ref{ID: id} }

func (r Ref) IsZero() bool { return r.ID == "" }

func (r Ref) String() string { return r.ID }

func (r Ref) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return bson.MarshalValue(r.ID)
}

func (r *Ref) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	raw := bson.RawValue{Type: t, Value: data}
	switch t {
	case bson.TypeString:
		*r = Ref{ID: raw.StringValue()}
	case bson.TypeObjectID:
		*r = Ref{ID: raw.ObjectID().Hex()}
	case bson.TypeEmbeddedDocument:
		doc := raw.Document()
		id := idFromRaw(doc.Lookup("_id"))
		if id == "" {
			id = idFromRaw(doc.Lookup("id"))
		}
		if id == "" {
			return errors.New("models: inlined reference has no id")
		}
		var p Profile
		if err := bson.Unmarshal(doc, &p); err != nil {
			return fmt.Errorf("models: decode inlined reference: %w", err)
		}
		p.ID = id
		*r = Ref{ID: id, Profile: &p}
	case bson.TypeNull, bson.TypeUndefined:
		*r = Ref{}
	default:
		return fmt.Errorf("models: unsupported reference type %s", t)
	}
	return nil
}

func idFromRaw(v bson.RawValue) string {
	if s, ok := v.StringValueOK(); ok {
		return s
	}
	if oid, ok := v.ObjectIDOK(); ok {
		return oid.Hex()
	}
	return ""
}

func (r Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ID)
}

func (r *Ref) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*r = Ref{}
		return nil
	}
	if b[0] == '"' {
		var id string
		if err := json.Unmarshal(b, &id); err != nil {
			return err
		}
		*r = Ref{ID: id}
		return nil
	}
	var doc struct {
		OID string `json:"_id"`
		ID  string `json:"id"`
		Profile
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	p := doc.Profile
	p.ID = doc.ID
	if p.ID == "" {
		p.ID = doc.OID
	}
	if p.ID == "" {
		return errors.New("models: inlined reference has no id")
	}
	*r = Ref{ID: p.ID, Profile: &p}
	return nil
}

// ValidID reports whether id is a well formed document id.
func ValidID(id string) bool {
	return primitive.IsValidObjectID(id)
}
