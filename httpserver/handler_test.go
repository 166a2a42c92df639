package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/varanames/registrar-client/interfaces"
	"github.com/varanames/registrar-client/orchestrator"
	"github.com/varanames/registrar-client/registry"
)

// mockClaims mocks ClaimService
type mockClaims struct {
	mock.Mock
}

func (m *mockClaims) Start(req orchestrator.ClaimRequest) (orchestrator.IntentView, error) {
	args := m.Called(req)
	return args.Get(0).(orchestrator.IntentView), args.Error(1)
}

func (m *mockClaims) Get(id string) (orchestrator.IntentView, bool) {
	args := m.Called(id)
	return args.Get(0).(orchestrator.IntentView), args.Bool(1)
}

func (m *mockClaims) Cancel(id string) error {
	return m.Called(id).Error(0)
}

func (m *mockClaims) Active() []orchestrator.IntentView {
	return m.Called().Get(0).([]orchestrator.IntentView)
}

var testOwner = interfaces.OwnerID{0xaa}

func newTestServer(t *testing.T, reg *registry.MockRegistrar, claims ClaimService) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewHandler(reg, claims, testOwner, logger)
	srv, err := New(&HTTPServerConfig{Log: logger}, handler, nil)
	require.NoError(t, err)
	return srv.Handler()
}

func do(t *testing.T, h http.Handler, method, target, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, target, r))
	resp := w.Result()

	var decoded map[string]interface{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &decoded), string(raw))
	}
	return resp, decoded
}

func TestHandleName_ActiveWithPrice(t *testing.T) {
	reg := new(registry.MockRegistrar)
	expiry := interfaces.LedgerTime(1_750_000_000_000)
	reg.On("Status", mock.Anything, interfaces.Name("alice")).Return(&interfaces.NameStatus{Name: interfaces.Name("alice"), Kind: interfaces.StatusActive, Expiry: &expiry}, nil)
	reg.On("Price", mock.Anything, interfaces.Name("alice"), interfaces.LedgerSpan(1000), (*big.Int)(nil)).Return(big.NewInt(2000), nil)

	resp, body := do(t, newTestServer(t, reg, nil), http.MethodGet, "/api/names/alice?duration=1000", "")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alice", body["name"])
	assert.Equal(t, "active", body["status"])
	assert.EqualValues(t, 1_750_000_000_000, body["expiry"])
	assert.EqualValues(t, 2000, body["price"])
	reg.AssertExpectations(t)
}

func TestHandleName_Errors(t *testing.T) {
	reg := new(registry.MockRegistrar)
	reg.On("Status", mock.Anything, interfaces.Name("broken")).Return(nil, &interfaces.QueryError{Op: "available", Name: "broken", Message: "node unavailable"})
	h := newTestServer(t, reg, nil)

	resp, _ := do(t, h, http.MethodGet, "/api/names/a.b", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, h, http.MethodGet, "/api/names/alice?duration=zero", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := do(t, h, http.MethodGet, "/api/names/broken", "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, body["error"], "node unavailable")

	reg.AssertNotCalled(t, "Price", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleCreateClaim(t *testing.T) {
	reg := new(registry.MockRegistrar)
	claims := new(mockClaims)
	claims.On("Start", orchestrator.ClaimRequest{Name: interfaces.Name("alice"), Owner: testOwner, Duration: 5000}).
		Return(orchestrator.IntentView{ID: "intent-1", Name: interfaces.Name("alice"), Phase: orchestrator.PhaseIdle}, nil)
	h := newTestServer(t, reg, claims)

	resp, body := do(t, h, http.MethodPost, "/api/claims", `{"name":"alice","duration":5000}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "intent-1", body["id"])
	assert.Equal(t, "idle", body["phase"])
	claims.AssertExpectations(t)
}

func TestHandleCreateClaim_Errors(t *testing.T) {
	claims := new(mockClaims)
	claims.On("Start", mock.Anything).Return(orchestrator.IntentView{}, &interfaces.ConcurrencyConflict{Name: "bob", IntentID: "intent-0"})
	h := newTestServer(t, new(registry.MockRegistrar), claims)

	resp, _ := do(t, h, http.MethodPost, "/api/claims", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, h, http.MethodPost, "/api/claims", `{"name":"","duration":1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, h, http.MethodPost, "/api/claims", `{"name":"bob","owner":"0x12","duration":1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := do(t, h, http.MethodPost, "/api/claims", `{"name":"bob","duration":1}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, body["error"], "intent-0")

	disabled := newTestServer(t, new(registry.MockRegistrar), nil)
	resp, _ = do(t, disabled, http.MethodPost, "/api/claims", `{"name":"bob","duration":1}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHandleGetAndCancelClaim(t *testing.T) {
	claims := new(mockClaims)
	claims.On("Get", "intent-1").Return(orchestrator.IntentView{ID: "intent-1", Phase: orchestrator.PhaseAwaitingMinAge}, true)
	claims.On("Get", "missing").Return(orchestrator.IntentView{}, false)
	claims.On("Cancel", "intent-1").Return(nil)
	claims.On("Cancel", "done").Return(orchestrator.ErrIntentFinished)
	claims.On("Cancel", "missing").Return(orchestrator.ErrUnknownIntent)
	claims.On("Active").Return([]orchestrator.IntentView{{ID: "intent-1"}})
	h := newTestServer(t, new(registry.MockRegistrar), claims)

	resp, body := do(t, h, http.MethodGet, "/api/claims/intent-1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "awaiting_min_age", body["phase"])

	resp, _ = do(t, h, http.MethodGet, "/api/claims/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = do(t, h, http.MethodDelete, "/api/claims/intent-1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "cancelled", body["status"])

	resp, _ = do(t, h, http.MethodDelete, "/api/claims/done", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = do(t, h, http.MethodDelete, "/api/claims/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/claims", nil))
	var active []orchestrator.IntentView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &active))
	require.Len(t, active, 1)
	assert.Equal(t, "intent-1", active[0].ID)
}

func TestDrainUndrain(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := New(&HTTPServerConfig{Log: logger}, NewHandler(new(registry.MockRegistrar), nil, testOwner, logger), nil)
	require.NoError(t, err)
	h := srv.Handler()

	resp, _ := do(t, h, http.MethodGet, "/livez", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = do(t, h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, body := do(t, h, http.MethodGet, "/drain", "")
	assert.Equal(t, "draining", body["status"])
	resp, _ = do(t, h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	_, body = do(t, h, http.MethodGet, "/drain", "")
	assert.Equal(t, "already draining", body["status"])

	_, body = do(t, h, http.MethodGet, "/undrain", "")
	assert.Equal(t, "ready", body["status"])
	resp, _ = do(t, h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&interfaces.ValidationError{Field: "name", Reason: "empty"}, http.StatusBadRequest},
		{&interfaces.ConcurrencyConflict{Name: "x"}, http.StatusConflict},
		{&interfaces.TimingViolation{Name: "x", Reason: interfaces.TimingTooEarly}, http.StatusConflict},
		{&interfaces.QueryError{Op: "price"}, http.StatusBadGateway},
		{orchestrator.ErrUnknownIntent, http.StatusNotFound},
		{&RequestError{StatusCode: http.StatusTeapot, Err: context.Canceled}, http.StatusTeapot},
		{context.Canceled, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
