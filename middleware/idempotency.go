package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"mentorly/db"
	"mentorly/globals"
	"mentorly/models"

	"github.com/julienschmidt/httprouter"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// IdempotencyStore keeps one record per (key, user).
type IdempotencyStore interface {
	// Reserve inserts rec, or returns the record already stored under its key.
	Reserve(ctx context.Context, rec models.IdempotencyRecord) (*models.IdempotencyRecord, error)
	Complete(ctx context.Context, key, userID string, response map[string]interface{}) error
	Release(ctx context.Context, key, userID string) error
}

// MongoIdempotencyStore relies on the unique (key, userid) index.
type MongoIdempotencyStore struct {
	Coll *mongo.Collection
}

func (s *MongoIdempotencyStore) Reserve(ctx context.Context, rec models.IdempotencyRecord) (*models.IdempotencyRecord, error) {
	_, err := s.Coll.InsertOne(ctx, rec)
	if err == nil {
		return nil, nil
	}
	if !db.IsDuplicateKeyError(err) {
		return nil, err
	}
	var existing models.IdempotencyRecord
	if err := s.Coll.FindOne(ctx, bson.M{"key": rec.Key, "userid": rec.UserID}).Decode(&existing); err != nil {
		return nil, err
	}
	return &existing, nil
}

func (s *MongoIdempotencyStore) Complete(ctx context.Context, key, userID string, response map[string]interface{}) error {
	_, err := s.Coll.UpdateOne(ctx,
		bson.M{"key": key, "userid": userID},
		bson.M{"$set": bson.M{"response": response}},
	)
	return err
}

func (s *MongoIdempotencyStore) Release(ctx context.Context, key, userID string) error {
	_, err := s.Coll.DeleteOne(ctx, bson.M{"key": key, "userid": userID})
	return err
}

const (
	idempotencyTTL = 24 * time.Hour
	// A reservation without a response older than this is treated as abandoned.
	inFlightTimeout = 2 * time.Minute
)

var errBodyTooLarge = errors.New("request body too large")

func computeRequestHash(r *http.Request, bodyBytes []byte, userID string) string {
	h := sha256.New()
	h.Write([]byte(r.Method + ":" + r.URL.Path + ":" + userID + ":"))
	h.Write(bodyBytes)
	return hex.EncodeToString(h.Sum(nil))
}

// captureResponseWriter records status and body while passing them through.
type captureResponseWriter struct {
	w           http.ResponseWriter
	statusCode  int
	buf         bytes.Buffer
	wroteHeader bool
}

func (c *captureResponseWriter) Header() http.Header {
	return c.w.Header()
}

func (c *captureResponseWriter) WriteHeader(statusCode int) {
	if !c.wroteHeader {
		c.statusCode = statusCode
		c.w.WriteHeader(statusCode)
		c.wroteHeader = true
	}
}

func (c *captureResponseWriter) Write(b []byte) (int, error) {
	if !c.wroteHeader {
		c.WriteHeader(http.StatusOK)
	}
	c.buf.Write(b)
	return c.w.Write(b)
}

func readBody(r *http.Request) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r.Body, 1<<20+1))
	if err != nil {
		return nil, err
	}
	if len(b) > 1<<20 {
		return nil, errBodyTooLarge
	}
	return b, nil
}

func statusOf(v interface{}) int {
	switch n := v.(type) {
	case int32:
		return int(n)
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	}
	return http.StatusOK
}

// Idempotency replays the stored response of a mutating request when the
// client repeats it with the same Idempotency-Key. Requests without the header
// pass through. It must run after Authenticate.
func Idempotency(store IdempotencyStore) func(httprouter.Handle) httprouter.Handle {
	return func(next httprouter.Handle) httprouter.Handle {
		return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				next(w, r, ps)
				return
			}
			if len(key) > 255 {
				http.Error(w, "Idempotency-Key too long", http.StatusBadRequest)
				return
			}
			userID, _ := r.Context().Value(globals.UserIDKey).(string)

			bodyBytes, err := readBody(r)
			if err != nil {
				http.Error(w, "failed to read request body", http.StatusBadRequest)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

			reqHash := computeRequestHash(r, bodyBytes, userID)
			now := time.Now().UTC()
			rec := models.IdempotencyRecord{
				Key:         key,
				Method:      r.Method,
				Path:        r.URL.Path,
				UserID:      userID,
				RequestHash: reqHash,
				CreatedAt:   now,
				ExpiresAt:   now.Add(idempotencyTTL),
			}

			ctx := r.Context()
			existing, err := store.Reserve(ctx, rec)
			if err != nil {
				log.Printf("[idempotency] reserve %s: %v", key, err)
				http.Error(w, "idempotency lookup error", http.StatusInternalServerError)
				return
			}

			if existing != nil {
				if existing.RequestHash != reqHash {
					http.Error(w, "idempotency-key conflict", http.StatusConflict)
					return
				}
				if existing.Response != nil {
					body, _ := existing.Response["body"].(string)
					w.Header().Set("Content-Type", "application/json")
					w.Header().Set("Idempotent-Replayed", "true")
					w.WriteHeader(statusOf(existing.Response["status"]))
					_, _ = w.Write([]byte(body))
					return
				}
				if now.Sub(existing.CreatedAt) < inFlightTimeout {
					w.Header().Set("Retry-After", "2")
					http.Error(w, "request with this Idempotency-Key is in progress", http.StatusConflict)
					return
				}
				// abandoned reservation, run again
			}

			crw := &captureResponseWriter{w: w, statusCode: http.StatusOK}
			next(crw, r, ps)

			bg := context.WithoutCancel(ctx)
			if crw.statusCode >= 500 {
				if err := store.Release(bg, key, userID); err != nil {
					log.Printf("[idempotency] release %s: %v", key, err)
				}
				return
			}
			resp := map[string]interface{}{"status": crw.statusCode, "body": crw.buf.String()}
			if err := store.Complete(bg, key, userID, resp); err != nil {
				log.Printf("[idempotency] complete %s: %v", key, err)
			}
		}
	}
}
