package db

import (
	"errors"
	"testing"

	"mentorly/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestRefMatch(t *testing.T) {
	plain := refMatch("userId", "user-1")
	alts, ok := plain["$or"].(bson.A)
	if !ok || len(alts) != 2 {
		t.Fatalf("plain id filter = %v", plain)
	}

	hex := "64b7f0c2a1d3e4f5a6b7c8d9"
	oid, _ := primitive.ObjectIDFromHex(hex)
	withOID := refMatch("mentorId", hex)
	alts = withOID["$or"].(bson.A)
	if len(alts) != 4 {
		t.Fatalf("hex id filter has %d alternatives, want 4", len(alts))
	}
	found := false
	for _, a := range alts {
		if m := a.(bson.M); m["mentorId"] == oid {
			found = true
		}
	}
	if !found {
		t.Errorf("no ObjectID alternative in %v", withOID)
	}
}

func TestAnd(t *testing.T) {
	one := bson.M{"a": 1}
	if got := and(one); got["a"] != 1 {
		t.Errorf("single clause = %v", got)
	}
	got := and(one, bson.M{"b": 2})
	clauses, ok := got["$and"].(bson.A)
	if !ok || len(clauses) != 2 {
		t.Errorf("and = %v", got)
	}
}

func TestObjectIDRejectsMalformed(t *testing.T) {
	if _, err := objectID("nope"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := objectID("64b7f0c2a1d3e4f5a6b7c8d9"); err != nil {
		t.Errorf("valid id: %v", err)
	}
}

func TestIDFilter(t *testing.T) {
	f := idFilter("userid", "user-1")
	if alts := f["$or"].(bson.A); len(alts) != 1 {
		t.Errorf("plain id filter = %v", f)
	}
	f = idFilter("userid", "64b7f0c2a1d3e4f5a6b7c8d9")
	if alts := f["$or"].(bson.A); len(alts) != 2 {
		t.Errorf("hex id filter = %v", f)
	}
}

func TestIsDuplicateKeyError(t *testing.T) {
	dup := mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 11000, Message: "E11000 duplicate key"}}}
	if !IsDuplicateKeyError(dup) {
		t.Error("unique index violation not recognised")
	}
	if IsDuplicateKeyError(mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 121}}}) {
		t.Error("validation failure reported as duplicate key")
	}
	if IsDuplicateKeyError(errors.New("boom")) {
		t.Error("plain error reported as duplicate key")
	}
}
