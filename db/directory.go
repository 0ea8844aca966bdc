package db

import (
	"context"
	"errors"

	"mentorly/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type userDoc struct {
	OID      primitive.ObjectID `bson:"_id,omitempty"`
	UserID   string             `bson:"userid"`
	Username string             `bson:"username"`
	Name     string             `bson:"name,omitempty"`
	Email    string             `bson:"email"`
}

type mentorDoc struct {
	OID    primitive.ObjectID `bson:"_id,omitempty"`
	UserID string             `bson:"userId"`
	Name   string             `bson:"name"`
	Email  string             `bson:"email"`
}

// Directory reads user and mentor profiles.
type Directory struct {
	users   *mongo.Collection
	mentors *mongo.Collection
}

func NewDirectory() *Directory {
	return &Directory{users: UserCollection, mentors: MentorsCollection}
}

func idFilter(field, id string) bson.M {
	alts := bson.A{bson.M{field: id}}
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		alts = append(alts, bson.M{"_id": oid})
	}
	return bson.M{"$or": alts}
}

func decodeOne(ctx context.Context, coll *mongo.Collection, filter bson.M, v any) error {
	err := coll.FindOne(ctx, filter).Decode(v)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.ErrNotFound
	}
	return err
}

func (d *Directory) User(ctx context.Context, id string) (*models.Profile, error) {
	var u userDoc
	if err := decodeOne(ctx, d.users, idFilter("userid", id), &u); err != nil {
		return nil, err
	}
	p := &models.Profile{ID: id, UserID: u.UserID, Name: u.Name, Email: u.Email}
	if p.UserID == "" {
		p.UserID = id
	}
	if p.Name == "" {
		p.Name = u.Username
	}
	return p, nil
}

func (d *Directory) mentorProfile(ctx context.Context, m mentorDoc) (*models.Profile, error) {
	p := &models.Profile{ID: m.OID.Hex(), UserID: m.UserID, Name: m.Name, Email: m.Email}
	if (p.Email == "" || p.Name == "") && p.UserID != "" {
		u, err := d.User(ctx, p.UserID)
		switch {
		case err == nil:
			if p.Email == "" {
				p.Email = u.Email
			}
			if p.Name == "" {
				p.Name = u.Name
			}
		case !errors.Is(err, models.ErrNotFound):
			return nil, err
		}
	}
	return p, nil
}

func (d *Directory) Mentor(ctx context.Context, id string) (*models.Profile, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, models.ErrNotFound
	}
	var m mentorDoc
	if err := decodeOne(ctx, d.mentors, bson.M{"_id": oid}, &m); err != nil {
		return nil, err
	}
	return d.mentorProfile(ctx, m)
}

func (d *Directory) MentorByUser(ctx context.Context, userID string) (*models.Profile, error) {
	var m mentorDoc
	if err := decodeOne(ctx, d.mentors, bson.M{"userId": userID}, &m); err != nil {
		return nil, err
	}
	return d.mentorProfile(ctx, m)
}
