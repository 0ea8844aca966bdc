package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"mentorly/globals"
	"mentorly/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/julienschmidt/httprouter"
)

func token(t *testing.T, userID string, roles ...string) string {
	t.Helper()
	claims := Claims{
		UserID: userID,
		Role:   roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(globals.JwtSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func echoUser(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	id, _ := r.Context().Value(globals.UserIDKey).(string)
	w.Write([]byte(id))
}

func TestAuthenticate(t *testing.T) {
	h := Authenticate(echoUser)

	cases := []struct {
		name   string
		header string
		code   int
		body   string
	}{
		{"missing", "", http.StatusUnauthorized, ""},
		{"bad format", "Token abc", http.StatusUnauthorized, ""},
		{"garbage", "Bearer abc.def.ghi", http.StatusUnauthorized, ""},
		{"valid", "Bearer " + token(t, "u1"), http.StatusOK, "u1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest("GET", "/", nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			h(w, r, nil)
			if w.Code != tc.code {
				t.Fatalf("status %d, want %d", w.Code, tc.code)
			}
			if tc.body != "" && w.Body.String() != tc.body {
				t.Fatalf("body %q, want %q", w.Body.String(), tc.body)
			}
		})
	}
}

func TestOptionalAuthPassesAnonymous(t *testing.T) {
	w := httptest.NewRecorder()
	OptionalAuth(echoUser)(w, httptest.NewRequest("GET", "/", nil), nil)
	if w.Code != http.StatusOK || w.Body.String() != "" {
		t.Fatalf("unexpected %d %q", w.Code, w.Body.String())
	}
}

func TestRequireRoles(t *testing.T) {
	h := Chain(Authenticate, RequireRoles("admin"))(echoUser)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer "+token(t, "u1", "user"))
	h(w, r, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("plain user got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r = httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer "+token(t, "ops", "admin"))
	h(w, r, nil)
	if w.Code != http.StatusOK || w.Body.String() != "ops" {
		t.Fatalf("admin got %d %q", w.Code, w.Body.String())
	}
}

func TestValidateJWT(t *testing.T) {
	c, err := ValidateJWT("Bearer " + token(t, "u9"))
	if err != nil || c.UserID != "u9" {
		t.Fatalf("got %+v, %v", c, err)
	}
	if _, err := ValidateJWT(token(t, "u9")); err == nil {
		t.Fatal("expected missing Bearer prefix to fail")
	}
}

type memIdem struct {
	mu   sync.Mutex
	recs map[string]*models.IdempotencyRecord
}

func (m *memIdem) Reserve(_ context.Context, rec models.IdempotencyRecord) (*models.IdempotencyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := rec.Key + "|" + rec.UserID
	if existing, ok := m.recs[k]; ok {
		cp := *existing
		return &cp, nil
	}
	m.recs[k] = &rec
	return nil, nil
}

func (m *memIdem) Complete(_ context.Context, key, userID string, resp map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[key+"|"+userID].Response = resp
	return nil
}

func (m *memIdem) Release(_ context.Context, key, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, key+"|"+userID)
	return nil
}

func TestIdempotencyReplaysFirstResponse(t *testing.T) {
	calls := 0
	h := Idempotency(&memIdem{recs: map[string]*models.IdempotencyRecord{}})(
		func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
			calls++
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"n":1}`))
		})

	send := func(body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r := httptest.NewRequest("POST", "/api/mentor-requests/x/pay", strings.NewReader(body))
		r.Header.Set("Idempotency-Key", "k1")
		r = r.WithContext(context.WithValue(r.Context(), globals.UserIDKey, "u1"))
		h(w, r, nil)
		return w
	}

	first := send(`{"amount":100}`)
	second := send(`{"amount":100}`)
	if calls != 1 {
		t.Fatalf("handler ran %d times", calls)
	}
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Fatalf("replay %d %q, first %d %q", second.Code, second.Body.String(), first.Code, first.Body.String())
	}
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatal("replay not marked")
	}

	if w := send(`{"amount":200}`); w.Code != http.StatusConflict {
		t.Fatalf("different body under the same key got %d", w.Code)
	}
}

func TestIdempotencyReleasesOnServerError(t *testing.T) {
	calls := 0
	store := &memIdem{recs: map[string]*models.IdempotencyRecord{}}
	h := Idempotency(store)(func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	})
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r := httptest.NewRequest("POST", "/x", strings.NewReader(`{}`))
		r.Header.Set("Idempotency-Key", "k2")
		h(w, r, nil)
	}
	if calls != 2 {
		t.Fatalf("expected a retry after a 5xx, handler ran %d times", calls)
	}
}
