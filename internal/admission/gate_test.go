package admission_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/openadmission/gatekeeper/internal/admission"
	"github.com/openadmission/gatekeeper/internal/apikey"
	"github.com/openadmission/gatekeeper/internal/ratelimit"
	"github.com/openadmission/gatekeeper/internal/store"
	"github.com/openadmission/gatekeeper/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock key store ---

type mockKeyStore struct {
	byHash        map[string]*models.APIKey
	hashErr       error
	usageRecorded chan uuid.UUID
}

func newMockKeyStore() *mockKeyStore {
	return &mockKeyStore{
		byHash:        make(map[string]*models.APIKey),
		usageRecorded: make(chan uuid.UUID, 8),
	}
}

func (m *mockKeyStore) Ping(_ context.Context) error                          { return nil }
func (m *mockKeyStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	m.byHash[key.SecretHash] = key
	return nil
}
func (m *mockKeyStore) GetAPIKeyByHash(_ context.Context, secretHash string) (*models.APIKey, error) {
	if m.hashErr != nil {
		return nil, m.hashErr
	}
	key, ok := m.byHash[secretHash]
	if !ok {
		return nil, store.ErrNotFound
	}
	return key, nil
}
func (m *mockKeyStore) ListAPIKeys(_ context.Context, _ uuid.UUID) ([]*models.APIKey, error) {
	return nil, nil
}
func (m *mockKeyStore) RecordAPIKeyUsage(_ context.Context, id uuid.UUID) error {
	m.usageRecorded <- id
	return nil
}
func (m *mockKeyStore) RevokeAPIKey(_ context.Context, _ uuid.UUID, _ uuid.UUID) error {
	return nil
}

// --- Mock counter store ---

type mockCounter struct {
	count    int64
	incrErr  error
	incrKeys []string
}

func (m *mockCounter) Incr(_ context.Context, key string) (int64, error) {
	if m.incrErr != nil {
		return 0, m.incrErr
	}
	m.incrKeys = append(m.incrKeys, key)
	m.count++
	return m.count, nil
}
func (m *mockCounter) Expire(_ context.Context, _ string, _ time.Duration) (bool, error) {
	return true, nil
}
func (m *mockCounter) Get(_ context.Context, _ string) (int64, bool, error) {
	return m.count, m.count > 0, nil
}
func (m *mockCounter) Delete(_ context.Context, _ string) error { return nil }
func (m *mockCounter) Ping(_ context.Context) error             { return nil }

// --- helpers ---

func newGate(ks *mockKeyStore, cs *mockCounter, sessions admission.SessionResolver) *admission.Gate {
	return admission.NewGate(admission.GateConfig{
		Classifier: admission.NewClassifier(
			[]string{"/health"},
			[]string{"/dashboard"},
			[]string{"/api/"},
		),
		Manager:        apikey.NewManager(ks),
		Limiter:        ratelimit.NewLimiter(cs, 60*time.Second, 0, nil),
		Sessions:       sessions,
		Realm:          "gatekeeper",
		LoginPath:      "/login",
		APILimit:       10,
		AnonymousLimit: 5,
	})
}

func okHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}

func serve(g *admission.Gate, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	g.Admit(okHandler()).ServeHTTP(w, req)
	return w
}

// --- Public paths ---

func TestGate_PublicPathForwarded(t *testing.T) {
	cs := &mockCounter{}
	g := newGate(newMockKeyStore(), cs, nil)

	w := serve(g, httptest.NewRequest("GET", "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, cs.incrKeys, "public paths are not counted")
}

// --- Session-protected paths ---

func TestGate_SessionMissing_BrowserRedirect(t *testing.T) {
	g := newGate(newMockKeyStore(), &mockCounter{}, nil)

	req := httptest.NewRequest("GET", "/dashboard", nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	w := serve(g, req)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login", w.Header().Get("Location"))
}

func TestGate_SessionMissing_APIOrigin401(t *testing.T) {
	g := newGate(newMockKeyStore(), &mockCounter{}, nil)

	req := httptest.NewRequest("GET", "/dashboard", nil)
	req.Header.Set("Accept", "application/json")
	w := serve(g, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body["error"])
	assert.NotEmpty(t, body["message"])
}

func TestGate_SessionResolved_Forwarded(t *testing.T) {
	userID := uuid.New()
	sessions := func(r *http.Request) (uuid.UUID, bool) {
		if _, err := r.Cookie("session"); err == nil {
			return userID, true
		}
		return uuid.Nil, false
	}
	cs := &mockCounter{}
	g := newGate(newMockKeyStore(), cs, sessions)

	var got *models.AuthContext
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = admission.GetAuthContext(r)
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: "tok"})
	w := httptest.NewRecorder()
	g.Admit(inner).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, got)
	assert.Equal(t, userID, got.UserID)
	assert.False(t, got.IsAPIKey)
	assert.Empty(t, cs.incrKeys, "session branch is not rate limited")
}

// --- Bearer authentication ---

func TestGate_InvalidBearer401WithChallenge(t *testing.T) {
	g := newGate(newMockKeyStore(), &mockCounter{}, nil)

	req := httptest.NewRequest("GET", "/api/v1/things", nil)
	req.Header.Set("Authorization", "Bearer bad-token")
	w := serve(g, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, `Bearer realm="gatekeeper"`, w.Header().Get("WWW-Authenticate"))
}

func TestGate_RevokedKey401(t *testing.T) {
	ks := newMockKeyStore()
	mgr := apikey.NewManager(ks)
	issued, err := mgr.Issue(context.Background(), uuid.New(), "ci")
	require.NoError(t, err)
	now := time.Now()
	ks.byHash[issued.Key.SecretHash].RevokedAt = &now

	g := newGate(ks, &mockCounter{}, nil)

	req := httptest.NewRequest("GET", "/api/v1/things", nil)
	req.Header.Set("Authorization", "Bearer "+issued.RawSecret)
	w := serve(g, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGate_StoreErrorFailsClosed(t *testing.T) {
	ks := newMockKeyStore()
	ks.hashErr = context.DeadlineExceeded
	g := newGate(ks, &mockCounter{}, nil)

	req := httptest.NewRequest("GET", "/api/v1/things", nil)
	req.Header.Set("Authorization", "Bearer gk_whatever")
	w := serve(g, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, `Bearer realm="gatekeeper"`, w.Header().Get("WWW-Authenticate"))
}

func TestGate_ValidBearer_ForwardedWithContextAndUsage(t *testing.T) {
	ks := newMockKeyStore()
	mgr := apikey.NewManager(ks)
	userID := uuid.New()
	issued, err := mgr.Issue(context.Background(), userID, "ci")
	require.NoError(t, err)

	cs := &mockCounter{}
	g := newGate(ks, cs, nil)

	var got *models.AuthContext
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = admission.GetAuthContext(r)
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/api/v1/things", nil)
	req.Header.Set("Authorization", "Bearer "+issued.RawSecret)
	w := httptest.NewRecorder()
	g.Admit(inner).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, got)
	assert.Equal(t, userID, got.UserID)
	assert.True(t, got.IsAPIKey)

	// The authenticated subject, not an address, keys the window.
	require.Len(t, cs.incrKeys, 1)
	assert.Equal(t, ratelimit.Key("/api/v1/things", userID.String()), cs.incrKeys[0])

	// Usage tracking is async but must happen.
	select {
	case recorded := <-ks.usageRecorded:
		assert.Equal(t, issued.Key.ID, recorded)
	case <-time.After(2 * time.Second):
		t.Fatal("usage was never recorded")
	}

	// Authenticated callers get the API limit.
	assert.Equal(t, "10", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "9", w.Header().Get("X-RateLimit-Remaining"))
}

func TestGate_SessionIdentityOnRateLimitedPath(t *testing.T) {
	userID := uuid.New()
	sessions := func(r *http.Request) (uuid.UUID, bool) {
		if _, err := r.Cookie("session"); err == nil {
			return userID, true
		}
		return uuid.Nil, false
	}
	cs := &mockCounter{}
	g := newGate(newMockKeyStore(), cs, sessions)

	var got *models.AuthContext
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = admission.GetAuthContext(r)
		w.WriteHeader(http.StatusOK)
	})

	// A logged-in user with no API key yet must still reach key
	// management with their identity attached.
	req := httptest.NewRequest("POST", "/api/v1/keys", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: "tok"})
	w := httptest.NewRecorder()
	g.Admit(inner).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, got)
	assert.Equal(t, userID, got.UserID)
	assert.False(t, got.IsAPIKey)

	// The subject, not the client address, keys the window, and the
	// session user gets the authenticated limit.
	require.Len(t, cs.incrKeys, 1)
	assert.Equal(t, ratelimit.Key("/api/v1/keys", userID.String()), cs.incrKeys[0])
	assert.Equal(t, "10", w.Header().Get("X-RateLimit-Limit"))
}

// --- Rate limiting ---

func TestGate_AnonymousRateLimitHeaders(t *testing.T) {
	cs := &mockCounter{}
	g := newGate(newMockKeyStore(), cs, nil)

	req := httptest.NewRequest("GET", "/api/v1/things", nil)
	req.Header.Set("X-Forwarded-For", "1.2.3.4")
	w := serve(g, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "4", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))

	require.Len(t, cs.incrKeys, 1)
	assert.Equal(t, ratelimit.Key("/api/v1/things", "1.2.3.4"), cs.incrKeys[0])
}

func TestGate_OverLimit429(t *testing.T) {
	cs := &mockCounter{count: 100} // next Incr returns 101
	g := newGate(newMockKeyStore(), cs, nil)

	w := serve(g, httptest.NewRequest("GET", "/api/v1/things", nil))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// Headers still show quota state on denial.
	assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body["error"])
	assert.Equal(t, float64(5), body["limit"])
	assert.NotZero(t, body["reset"])
}

func TestGate_CounterUnavailable_FailsOpen(t *testing.T) {
	cs := &mockCounter{incrErr: context.DeadlineExceeded}
	g := newGate(newMockKeyStore(), cs, nil)

	w := serve(g, httptest.NewRequest("GET", "/api/v1/things", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
}
