package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"clinic-secops/internal/encryption"
	"clinic-secops/internal/geo"
	"clinic-secops/internal/hashing"
	"clinic-secops/internal/metrics"
	"clinic-secops/internal/models"
	"clinic-secops/internal/repository/sqlite"
	"clinic-secops/internal/service"
	"clinic-secops/internal/stream"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	adminToken  = "admin-token"
	doctorToken = "doctor-token"
)

type testServer struct {
	router   chi.Router
	services *service.ServiceFactory
}

func newTestServer(t *testing.T, opts RouterOptions) *testServer {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.Open(ctx, "")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	hasher, err := hashing.NewHasherWithPepper([]byte("handler-test-pepper-0123456789"))
	require.NoError(t, err)
	locator, err := geo.NewLocator("")
	require.NoError(t, err)
	m := metrics.New()

	services := service.NewServiceFactory(service.Dependencies{
		DB:         db,
		Hasher:     hasher,
		Encryption: encryption.NewLocalEncryptionManager([]byte("handler-test-key")),
		Locator:    locator,
		Publisher:  stream.NewPublisher(m),
		Metrics:    m,
		Logger:     zap.NewNop(),
		TOTPIssuer: "Clinic Test",
	})
	t.Cleanup(services.Cleanup)

	directory := sqlite.NewDirectoryRepository(db)
	created := time.Now().Add(-365 * 24 * time.Hour)
	for _, p := range []struct{ id, role, token string }{
		{"admin-1", models.RoleAdmin, adminToken},
		{"doc-1", models.RoleDoctor, doctorToken},
	} {
		require.NoError(t, directory.UpsertPrincipal(ctx, &models.Principal{ID: p.id, Role: p.role, Email: p.id + "@clinic.test", CreatedAt: created}))
		require.NoError(t, directory.AddCredential(ctx, hasher.Digest(hashing.ContextCredential, p.token), p.id, nil))
	}

	h := NewHandler(services, m, zap.NewNop())
	return &testServer{router: NewRouter(h, m, opts, zap.NewNop()), services: services}
}

func (s *testServer) post(t *testing.T, path, token string, body interface{}) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var payload []byte
	switch b := body.(type) {
	case string:
		payload = []byte(b)
	default:
		var err error
		payload, err = json.Marshal(b)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec, resp
}

func dataMap(t *testing.T, resp Response) map[string]interface{} {
	t.Helper()
	m, ok := resp.Data.(map[string]interface{})
	require.True(t, ok, "data is %T", resp.Data)
	return m
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"clinic-secops"}`, rec.Body.String())
}

func TestRequireTLS(t *testing.T) {
	s := newTestServer(t, RouterOptions{RequireTLS: true})
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusUpgradeRequired, rec.Code)
}

func TestAuthentication(t *testing.T) {
	s := newTestServer(t, RouterOptions{})

	rec, resp := s.post(t, "/api/v1/sessions", "", Request{Action: "list"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeUnauthorized, resp.Error.Code)
	assert.Equal(t, "Missing authorization header", resp.Error.Message)

	rec, resp = s.post(t, "/api/v1/sessions", "bogus", Request{Action: "list"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid authorization token", resp.Error.Message)
}

func TestActionDispatch(t *testing.T) {
	s := newTestServer(t, RouterOptions{})

	rec, resp := s.post(t, "/api/v1/sessions", doctorToken, Request{Action: "create"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	created := dataMap(t, resp)
	token, ok := created["session_token"].(string)
	require.True(t, ok, "created session: %v", created)

	rec, resp = s.post(t, "/api/v1/sessions", token, Request{Action: "list"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	listed := dataMap(t, resp)
	assert.EqualValues(t, 1, listed["total"])
	sessions := listed["sessions"].([]interface{})
	assert.Equal(t, true, sessions[0].(map[string]interface{})["is_current"])

	rec, resp = s.post(t, "/api/v1/sessions", doctorToken, Request{Action: "drop_tables"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, codeValidation, resp.Error.Code)
	assert.Equal(t, "Invalid action specified", resp.Error.Message)

	rec, resp = s.post(t, "/api/v1/sessions", doctorToken, "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid request body", resp.Error.Message)
}

func TestAdminOnlyActions(t *testing.T) {
	s := newTestServer(t, RouterOptions{})

	rec, resp := s.post(t, "/api/v1/incidents", doctorToken, Request{
		Action: "create",
		Data:   json.RawMessage(`{"incident_type":"malware_detected","severity":"low","title":"Infected kiosk"}`),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	incidentID := dataMap(t, resp)["incident_id"].(string)

	update := Request{
		Action: "update",
		Data:   json.RawMessage(`{"incident_id":"` + incidentID + `","status":"resolved","resolution":"wiped"}`),
	}
	rec, resp = s.post(t, "/api/v1/incidents", doctorToken, update)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, codeForbidden, resp.Error.Code)

	rec, resp = s.post(t, "/api/v1/incidents", adminToken, update)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, codeInvalidTransition, resp.Error.Code)
	assert.Equal(t, "Invalid status transition from open to resolved", resp.Error.Message)

	rec, _ = s.post(t, "/api/v1/dashboard", doctorToken, Request{Action: "metrics"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, resp = s.post(t, "/api/v1/dashboard", adminToken, Request{Action: "metrics", Data: json.RawMessage(`{"time_range":"7d"}`)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, dataMap(t, resp)["active_incidents"])
}

func TestErrorClassification(t *testing.T) {
	s := newTestServer(t, RouterOptions{})

	rec, resp := s.post(t, "/api/v1/incidents", adminToken, Request{
		Action: "get",
		Data:   json.RawMessage(`{"incident_id":"INC-missing"}`),
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, codeNotFound, resp.Error.Code)
	assert.Equal(t, "Incident not found", resp.Error.Message)

	rec, resp = s.post(t, "/api/v1/two-factor", doctorToken, Request{Action: "verify", Data: json.RawMessage(`{"code":"123456"}`)})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, codeNotConfigured, resp.Error.Code)

	rec, resp = s.post(t, "/api/v1/risk", doctorToken, Request{Action: "assess", Data: json.RawMessage(`{"action_type": 5}`)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, codeValidation, resp.Error.Code)
}

func TestDetectAnomalyAction(t *testing.T) {
	s := newTestServer(t, RouterOptions{})

	rec, resp := s.post(t, "/api/v1/risk", doctorToken, Request{
		Action: "detect_anomaly",
		Data:   json.RawMessage(`{"device":"dev-9"}`),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := dataMap(t, resp)
	assert.Equal(t, false, data["is_anomaly"])
	assert.Equal(t, "No behavior profile established", data["reason"])

	rec, resp = s.post(t, "/api/v1/risk", doctorToken, Request{
		Action: "detect_anomaly",
		Data:   json.RawMessage(`{"user_id":"admin-1"}`),
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, codeForbidden, resp.Error.Code)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, RouterOptions{RequestsPerSecond: 0.001, Burst: 2})

	for i := 0; i < 2; i++ {
		rec, _ := s.post(t, "/api/v1/sessions", doctorToken, Request{Action: "check_limit"})
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec, resp := s.post(t, "/api/v1/sessions", doctorToken, Request{Action: "check_limit"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, codeRateLimited, resp.Error.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// Buckets are per principal.
	rec, _ = s.post(t, "/api/v1/sessions", adminToken, Request{Action: "check_limit"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClassifyHidesInternalErrors(t *testing.T) {
	status, code, message := classify(assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, codeInternal, code)
	assert.Equal(t, internalMessage, message)
}
