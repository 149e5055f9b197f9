package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/openadmission/gatekeeper/internal/admission"
	"github.com/openadmission/gatekeeper/internal/api/handler"
	"github.com/openadmission/gatekeeper/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock quota reader ---

type mockQuota struct {
	peekRes  ratelimit.Result
	peekErr  error
	resetErr error

	gotLabel      string
	gotIdentifier string
	gotLimit      int
}

func (m *mockQuota) Peek(_ context.Context, label, identifier string, limit int) (ratelimit.Result, error) {
	m.gotLabel, m.gotIdentifier, m.gotLimit = label, identifier, limit
	return m.peekRes, m.peekErr
}

func (m *mockQuota) Reset(_ context.Context, label, identifier string) error {
	m.gotLabel, m.gotIdentifier = label, identifier
	return m.resetErr
}

// --- Usage ---

func TestUsage_AnonymousLimit(t *testing.T) {
	m := &mockQuota{peekRes: ratelimit.Result{Limit: 20, Remaining: 17, Reset: time.Now().Add(time.Minute)}}
	h := handler.NewUsageHandler(m, 60, 20, nil)

	req := httptest.NewRequest("GET", "/api/v1/usage?label=/api/v1/things", nil)
	req.Header.Set("X-Forwarded-For", "1.2.3.4")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/api/v1/things", m.gotLabel)
	assert.Equal(t, "1.2.3.4", m.gotIdentifier)
	assert.Equal(t, 20, m.gotLimit)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	data := body["data"].(map[string]any)
	assert.Equal(t, float64(17), data["remaining"])
}

func TestUsage_AuthenticatedLimit(t *testing.T) {
	m := &mockQuota{peekRes: ratelimit.Result{Limit: 60, Remaining: 60}}
	h := handler.NewUsageHandler(m, 60, 20, nil)

	userID := uuid.New()
	req := authed(httptest.NewRequest("GET", "/api/v1/usage?label=x", nil), userID)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 60, m.gotLimit)
	assert.Equal(t, userID.String(), m.gotIdentifier)
}

func TestUsage_ConfiguredResolverChain(t *testing.T) {
	// A deployment with custom resolvers must see usage for the same
	// bucket the gate counts, not the default chain's bucket.
	tenantResolver := func(r *http.Request) (string, bool) {
		id := r.Header.Get("X-Tenant-ID")
		return id, id != ""
	}
	m := &mockQuota{peekRes: ratelimit.Result{Limit: 20, Remaining: 20}}
	h := handler.NewUsageHandler(m, 60, 20, []admission.Resolver{tenantResolver, admission.AnonymousResolver})

	req := httptest.NewRequest("GET", "/api/v1/usage?label=x", nil)
	req.Header.Set("X-Tenant-ID", "tenant-7")
	req.Header.Set("X-Forwarded-For", "1.2.3.4")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "tenant-7", m.gotIdentifier)
}

func TestUsage_MissingLabel(t *testing.T) {
	h := handler.NewUsageHandler(&mockQuota{}, 60, 20, nil)

	req := httptest.NewRequest("GET", "/api/v1/usage", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUsage_StoreUnavailable(t *testing.T) {
	m := &mockQuota{peekErr: errors.New("redis down")}
	h := handler.NewUsageHandler(m, 60, 20, nil)

	req := httptest.NewRequest("GET", "/api/v1/usage?label=x", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// --- Reset ---

func TestResetLimit_AdminSuccess(t *testing.T) {
	admin := uuid.New()
	m := &mockQuota{}
	h := handler.NewResetLimitHandler(m, []uuid.UUID{admin})

	req := authed(httptest.NewRequest("DELETE", "/api/v1/admin/ratelimit?label=/api/v1/things&identifier=u1", nil), admin)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/api/v1/things", m.gotLabel)
	assert.Equal(t, "u1", m.gotIdentifier)
}

func TestResetLimit_NonAdminForbidden(t *testing.T) {
	m := &mockQuota{}
	h := handler.NewResetLimitHandler(m, []uuid.UUID{uuid.New()})

	// A valid key holder who is not a listed admin must not be able to
	// clear windows, their own included.
	req := authed(httptest.NewRequest("DELETE", "/api/v1/admin/ratelimit?label=x&identifier=u1", nil), uuid.New())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, m.gotLabel, "reset must not reach the store")
}

func TestResetLimit_NoAdminsConfigured(t *testing.T) {
	h := handler.NewResetLimitHandler(&mockQuota{}, nil)

	req := authed(httptest.NewRequest("DELETE", "/api/v1/admin/ratelimit?label=x&identifier=u1", nil), uuid.New())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestResetLimit_Unauthenticated(t *testing.T) {
	h := handler.NewResetLimitHandler(&mockQuota{}, []uuid.UUID{uuid.New()})

	req := httptest.NewRequest("DELETE", "/api/v1/admin/ratelimit?label=x&identifier=u1", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestResetLimit_MissingParams(t *testing.T) {
	admin := uuid.New()
	h := handler.NewResetLimitHandler(&mockQuota{}, []uuid.UUID{admin})

	req := authed(httptest.NewRequest("DELETE", "/api/v1/admin/ratelimit?label=x", nil), admin)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
