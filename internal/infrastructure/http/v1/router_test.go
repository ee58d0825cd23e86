package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portalid/internal/core/apperror"
	appctx "portalid/internal/core/context"
	coreseq "portalid/internal/core/sequence"
	"portalid/internal/domain/auth"
	domainseq "portalid/internal/domain/sequence"
	"portalid/internal/infrastructure/http/v1/dto"
	"portalid/internal/infrastructure/http/v1/middleware"
	"portalid/internal/infrastructure/storage/memory"
	"portalid/pkg/logger"
)

var in2025 = time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC)

type testAPI struct {
	router http.Handler
	store  *memory.Store
	jwt    *auth.JWTService
}

func newTestAPI(t *testing.T, withIdempotency bool) *testAPI {
	t.Helper()
	store := memory.New()
	svc := domainseq.NewService(store,
		domainseq.WithClock(coreseq.FixedClock(in2025)),
		domainseq.WithLogger(logger.NewNop()),
	)
	jwtSvc := auth.NewJWTService(auth.DefaultJWTConfig("test-secret"))

	cfg := RouterConfig{
		Logger:       logger.NewNop(),
		JWTValidator: jwtSvc,
		Sequences:    svc,
		Store:        store,
		StoreKind:    "memory",
	}
	if withIdempotency {
		cfg.Idempotency = memory.NewIdempotencyStore(time.Hour)
	}
	return &testAPI{router: NewRouter(cfg), store: store, jwt: jwtSvc}
}

func (a *testAPI) token(t *testing.T, sub auth.Subject) string {
	t.Helper()
	tok, _, err := a.jwt.GenerateAccessToken(sub)
	require.NoError(t, err)
	return tok
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

var member = auth.Subject{UserID: "u-1", Username: "ana"}

func TestHealth(t *testing.T) {
	api := newTestAPI(t, false)

	rec := api.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "memory")
	assert.NotEmpty(t, rec.Header().Get(middleware.HeaderRequestID))
}

func TestTaskAndIncidentIDs(t *testing.T) {
	api := newTestAPI(t, false)
	tok := api.token(t, member)

	rec := api.do(t, http.MethodPost, "/api/v1/tasks/ids", tok, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	got := decode[dto.AllocationResponse](t, rec)
	assert.Equal(t, "Task-25001", got.ID)
	assert.Equal(t, "taskCounter", got.Sequence)
	assert.Equal(t, "25", got.Year)
	assert.Equal(t, int64(1), got.Number)

	rec = api.do(t, http.MethodPost, "/api/v1/tasks/ids", tok, nil)
	assert.Equal(t, "Task-25002", decode[dto.AllocationResponse](t, rec).ID)

	rec = api.do(t, http.MethodPost, "/api/v1/incidents/ids", tok, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "IR-25001", decode[dto.AllocationResponse](t, rec).ID)
}

func TestAllocateCustomSequence(t *testing.T) {
	api := newTestAPI(t, false)
	tok := api.token(t, member)

	rec := api.do(t, http.MethodPost, "/api/v1/sequences/changeCounter/allocate", tok, dto.AllocateRequest{Prefix: "CHG"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "CHG-25001", decode[dto.AllocationResponse](t, rec).ID)

	rec = api.do(t, http.MethodPost, "/api/v1/sequences/changeCounter/allocate", tok, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperror.CodeValidation, decode[dto.ErrorResponse](t, rec).Code)

	rec = api.do(t, http.MethodPost, "/api/v1/sequences/changeCounter/allocate", tok, dto.AllocateRequest{Prefix: "C G"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthRules(t *testing.T) {
	api := newTestAPI(t, false)

	rec := api.do(t, http.MethodPost, "/api/v1/tasks/ids", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/v1/tasks/ids", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	guest := api.token(t, auth.Subject{UserID: "guest-1", Guest: true})
	rec = api.do(t, http.MethodPost, "/api/v1/tasks/ids", guest, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	_, err := api.store.Get(context.Background(), "taskCounter")
	assert.True(t, apperror.IsNotFound(err), "rejected requests must not consume numbers")
}

func TestGuestsMayReadCounters(t *testing.T) {
	api := newTestAPI(t, false)
	rec := api.do(t, http.MethodPost, "/api/v1/tasks/ids", api.token(t, member), nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	guest := api.token(t, auth.Subject{UserID: "guest-1", Guest: true})

	rec = api.do(t, http.MethodGet, "/api/v1/sequences", guest, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/v1/sequences/taskCounter", guest, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), decode[dto.CounterResponse](t, rec).LastNumber)

	rec = api.do(t, http.MethodPost, "/api/v1/sequences/taskCounter/allocate", guest, dto.AllocateRequest{Prefix: "Task"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/v1/sequences", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSeedRequiresAdmin(t *testing.T) {
	api := newTestAPI(t, false)
	body := dto.SeedRequest{LastNumber: 120, Year: "25"}

	rec := api.do(t, http.MethodPut, "/api/v1/sequences/taskCounter", api.token(t, member), body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin := api.token(t, auth.Subject{UserID: "root", Roles: []string{appctx.RoleAdmin}})
	rec = api.do(t, http.MethodPut, "/api/v1/sequences/taskCounter", admin, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(t, http.MethodPost, "/api/v1/tasks/ids", admin, nil)
	assert.Equal(t, "Task-25121", decode[dto.AllocationResponse](t, rec).ID)

	rec = api.do(t, http.MethodPut, "/api/v1/sequences/taskCounter", admin, dto.SeedRequest{LastNumber: 5, Year: "2025"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPut, "/api/v1/sequences/taskCounter", admin, dto.SeedRequest{LastNumber: 5, Year: "25"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperror.CodeSequenceRewind, decode[dto.ErrorResponse](t, rec).Code)

	rec = api.do(t, http.MethodPut, "/api/v1/sequences/taskCounter", admin, dto.SeedRequest{LastNumber: 5, Year: "25", Force: true})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListAndGet(t *testing.T) {
	api := newTestAPI(t, false)
	tok := api.token(t, member)

	rec := api.do(t, http.MethodGet, "/api/v1/sequences", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"items":[],"total":0}`, rec.Body.String())

	api.do(t, http.MethodPost, "/api/v1/tasks/ids", tok, nil)
	api.do(t, http.MethodPost, "/api/v1/incidents/ids", tok, nil)

	rec = api.do(t, http.MethodGet, "/api/v1/sequences", tok, nil)
	list := decode[dto.ListResponse[dto.CounterResponse]](t, rec)
	require.Equal(t, 2, list.Total)
	assert.Equal(t, "incidentCounter", list.Items[0].Name)

	rec = api.do(t, http.MethodGet, "/api/v1/sequences/taskCounter", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[dto.CounterResponse](t, rec)
	assert.Equal(t, int64(1), got.LastNumber)
	assert.Equal(t, "25", got.Year)

	rec = api.do(t, http.MethodGet, "/api/v1/sequences/nothing", tok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStoreErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"conflict", apperror.NewTransactionConflict("taskCounter", 5), http.StatusConflict, apperror.CodeTransactionConflict},
		{"unavailable", apperror.NewStoreUnavailable(context.DeadlineExceeded), http.StatusServiceUnavailable, apperror.CodeStoreUnavailable},
		{"malformed", apperror.NewMalformedCounter("taskCounter", "year"), http.StatusInternalServerError, apperror.CodeMalformedCounter},
		{"plain", assert.AnError, http.StatusInternalServerError, apperror.CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestAPI(t, false)
			api.store.FailNext(tt.err)

			rec := api.do(t, http.MethodPost, "/api/v1/tasks/ids", api.token(t, member), nil)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decode[dto.ErrorResponse](t, rec).Code)
		})
	}
}

func TestIdempotentReplay(t *testing.T) {
	api := newTestAPI(t, true)
	tok := api.token(t, member)

	first := api.do(t, http.MethodPost, "/api/v1/tasks/ids", tok, nil, middleware.HeaderIdempotencyKey, "req-1")
	require.Equal(t, http.StatusCreated, first.Code)

	again := api.do(t, http.MethodPost, "/api/v1/tasks/ids", tok, nil, middleware.HeaderIdempotencyKey, "req-1")
	assert.Equal(t, http.StatusCreated, again.Code)
	assert.Equal(t, "true", again.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), again.Body.String())

	other := api.do(t, http.MethodPost, "/api/v1/tasks/ids", tok, nil, middleware.HeaderIdempotencyKey, "req-2")
	assert.Equal(t, "Task-25002", decode[dto.AllocationResponse](t, other).ID)

	// same key on another route is a mismatch
	rec := api.do(t, http.MethodPost, "/api/v1/incidents/ids", tok, nil, middleware.HeaderIdempotencyKey, "req-1")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestIdempotencyKeyReleasedOnConflict(t *testing.T) {
	api := newTestAPI(t, true)
	tok := api.token(t, member)
	api.store.FailNext(apperror.NewTransactionConflict("taskCounter", 8))

	rec := api.do(t, http.MethodPost, "/api/v1/tasks/ids", tok, nil, middleware.HeaderIdempotencyKey, "retry-me")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/v1/tasks/ids", tok, nil, middleware.HeaderIdempotencyKey, "retry-me")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Task-25001", decode[dto.AllocationResponse](t, rec).ID)
}
