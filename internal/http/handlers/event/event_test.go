package event

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/setu/events-api/internal/auth"
	"github.com/setu/events-api/internal/config"
	"github.com/setu/events-api/internal/events"
	"github.com/setu/events-api/internal/http/middleware"
	"github.com/setu/events-api/internal/storage/sqlite"
	"github.com/setu/events-api/internal/types"
	"github.com/setu/events-api/internal/utils/response"
)

type apiResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
	Data    json.RawMessage `json:"data"`
}

type testAPI struct {
	t      *testing.T
	server *httptest.Server
	jwt    *auth.JWTManager
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	store, err := sqlite.New(&config.Config{Storage: config.Storage{
		Driver:  config.DriverSQLite,
		Path:    filepath.Join(t.TempDir(), "api.db"),
		Migrate: true,
	}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	svc := events.NewService(store)
	jwt := auth.NewJWTManager("test-secret", time.Hour, "setu")
	authed := middleware.Authenticate(jwt)

	router := http.NewServeMux()
	router.HandleFunc("GET /api/health", Health(store))
	router.HandleFunc("GET /api/events", GetList(svc))
	router.HandleFunc("GET /api/events/{id}", GetByID(svc))
	router.Handle("POST /api/events", authed(New(svc)))
	router.Handle("PUT /api/events/{id}", authed(Update(svc)))
	router.Handle("DELETE /api/events/{id}", authed(Delete(svc)))
	router.Handle("POST /api/events/{id}/register", authed(Register(svc)))
	router.Handle("GET /api/events/my/registrations",
		authed(middleware.RequireRole(types.RoleStudent)(MyRegistrations(svc))))

	server := httptest.NewServer(middleware.RequestID(router))
	t.Cleanup(server.Close)

	return &testAPI{t: t, server: server, jwt: jwt}
}

func (a *testAPI) do(method, path string, as *types.Identity, body any) (int, apiResponse) {
	a.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req, err := http.NewRequest(method, a.server.URL+path, &buf)
	require.NoError(a.t, err)
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		token, err := a.jwt.Generate(*as)
		require.NoError(a.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()

	var out apiResponse
	require.NoError(a.t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func (a *testAPI) createEvent(as types.Identity, capacity int) types.Event {
	a.t.Helper()
	status, resp := a.do(http.MethodPost, "/api/events", &as, map[string]any{
		"title":        "Hack Night",
		"date":         types.DateOf(time.Now()).AddDays(2).String(),
		"max_capacity": capacity,
		"location":     "Lab 3",
	})
	require.Equal(a.t, http.StatusCreated, status, resp.Message)

	var e types.Event
	require.NoError(a.t, json.Unmarshal(resp.Data, &e))
	return e
}

func eventPath(id int64, suffix string) string {
	return "/api/events/" + strconv.FormatInt(id, 10) + suffix
}

var (
	adminID   = types.Identity{ID: 1, Role: types.RoleAdmin}
	alumniID  = types.Identity{ID: 4, Role: types.RoleAlumni}
	studentID = types.Identity{ID: 10, Role: types.RoleStudent}
	validReg  = map[string]any{"name": "Asha", "department": "CSE", "roll_number": "21CS10", "year": 3}
)

func TestCreateEventHandler(t *testing.T) {
	api := newTestAPI(t)

	e := api.createEvent(adminID, 5)
	assert.Equal(t, "Hack Night", e.Title)
	assert.Equal(t, types.DefaultImageURL, e.ImageURL)
	assert.Equal(t, types.OrganizerAdmin, e.Organizer.Kind)

	status, resp := api.do(http.MethodPost, "/api/events", nil, map[string]any{"title": "x"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, response.CodeUnauthenticated, resp.Code)

	status, resp = api.do(http.MethodPost, "/api/events", &studentID, map[string]any{
		"title": "x", "date": types.DateOf(time.Now()).String(), "max_capacity": 1,
	})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, response.CodeForbidden, resp.Code)

	status, resp = api.do(http.MethodPost, "/api/events", &adminID, map[string]any{"title": "x"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, response.CodeValidation, resp.Code)
	assert.Contains(t, resp.Message, "field date is required")

	status, resp = api.do(http.MethodPost, "/api/events", &adminID, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "request body is empty", resp.Message)

	status, _ = api.do(http.MethodPost, "/api/events", &adminID, `{"title":"x","date":"tomorrow","max_capacity":1}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, resp = api.do(http.MethodPost, "/api/events", &adminID, map[string]any{
		"title": "x", "date": types.DateOf(time.Now()).AddDays(-1).String(), "max_capacity": 1,
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, resp.Message, "past")
}

func TestRegisterHandler(t *testing.T) {
	api := newTestAPI(t)
	e := api.createEvent(alumniID, 1)
	path := eventPath(e.ID, "/register")

	status, resp := api.do(http.MethodPost, path, &studentID, validReg)
	require.Equal(t, http.StatusCreated, status, resp.Message)
	var reg types.Registration
	require.NoError(t, json.Unmarshal(resp.Data, &reg))
	assert.Equal(t, e.ID, reg.EventID)
	assert.Equal(t, int64(10), reg.RegistrantID)

	status, resp = api.do(http.MethodPost, path, &studentID, validReg)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, response.CodeAlreadyRegistered, resp.Code)

	other := types.Identity{ID: 11, Role: types.RoleStudent}
	status, resp = api.do(http.MethodPost, path, &other, validReg)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, response.CodeEventFull, resp.Code)

	alum := types.Identity{ID: 3, Role: types.RoleAlumni}
	status, resp = api.do(http.MethodPost, path, &alum, validReg)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, response.CodeForbidden, resp.Code)

	status, resp = api.do(http.MethodPost, eventPath(9999, "/register"), &studentID, validReg)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, response.CodeNotFound, resp.Code)

	status, resp = api.do(http.MethodPost, path, &other, map[string]any{"name": "only"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, response.CodeValidation, resp.Code)

	status, _ = api.do(http.MethodPost, "/api/events/abc/register", &studentID, validReg)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestGetAndListHandlers(t *testing.T) {
	api := newTestAPI(t)
	e := api.createEvent(adminID, 3)
	api.createEvent(alumniID, 3)

	status, resp := api.do(http.MethodPost, eventPath(e.ID, "/register"), &studentID, validReg)
	require.Equal(t, http.StatusCreated, status, resp.Message)

	status, resp = api.do(http.MethodGet, eventPath(e.ID, ""), nil, nil)
	require.Equal(t, http.StatusOK, status)
	var detail types.EventDetail
	require.NoError(t, json.Unmarshal(resp.Data, &detail))
	assert.Equal(t, 1, detail.CurrentRegistrations)
	require.Len(t, detail.Registrations, 1)
	assert.Equal(t, "Asha", detail.Registrations[0].Name)

	status, resp = api.do(http.MethodGet, eventPath(404404, ""), nil, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, resp = api.do(http.MethodGet, "/api/events?upcoming=true&page=1&limit=1", nil, nil)
	require.Equal(t, http.StatusOK, status)
	var page types.EventPage
	require.NoError(t, json.Unmarshal(resp.Data, &page))
	assert.Equal(t, 2, page.Pagination.Total)
	assert.Equal(t, 2, page.Pagination.TotalPages)
	assert.Len(t, page.Events, 1)

	status, resp = api.do(http.MethodGet, "/api/events?past=true&page=zero&limit=-4", nil, nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(resp.Data, &page))
	assert.Zero(t, page.Pagination.Total)
	assert.Equal(t, 1, page.Pagination.Page)
	assert.Equal(t, events.DefaultLimit, page.Pagination.Limit)
	assert.NotNil(t, page.Events)
}

func TestUpdateAndDeleteHandlers(t *testing.T) {
	api := newTestAPI(t)
	e := api.createEvent(alumniID, 5)
	path := eventPath(e.ID, "")

	status, resp := api.do(http.MethodPut, path, &alumniID, map[string]any{"title": "Renamed", "max_capacity": 8})
	require.Equal(t, http.StatusOK, status, resp.Message)
	var updated types.Event
	require.NoError(t, json.Unmarshal(resp.Data, &updated))
	assert.Equal(t, "Renamed", updated.Title)
	assert.Equal(t, 8, updated.MaxCapacity)

	intruder := types.Identity{ID: 5, Role: types.RoleAlumni}
	status, _ = api.do(http.MethodPut, path, &intruder, map[string]any{"title": "Mine"})
	assert.Equal(t, http.StatusForbidden, status)

	status, resp = api.do(http.MethodPut, path, &alumniID, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "no fields to update", resp.Message)

	status, _ = api.do(http.MethodDelete, path, &intruder, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, resp = api.do(http.MethodDelete, path, &alumniID, nil)
	require.Equal(t, http.StatusOK, status, resp.Message)
	assert.True(t, resp.Success)

	status, _ = api.do(http.MethodGet, path, nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestMyRegistrationsHandler(t *testing.T) {
	api := newTestAPI(t)
	e := api.createEvent(adminID, 5)

	status, resp := api.do(http.MethodGet, "/api/events/my/registrations", &studentID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `[]`, string(resp.Data))

	status, _ = api.do(http.MethodPost, eventPath(e.ID, "/register"), &studentID, validReg)
	require.Equal(t, http.StatusCreated, status)

	status, resp = api.do(http.MethodGet, "/api/events/my/registrations", &studentID, nil)
	require.Equal(t, http.StatusOK, status)
	var regs []types.Registration
	require.NoError(t, json.Unmarshal(resp.Data, &regs))
	require.Len(t, regs, 1)
	require.NotNil(t, regs[0].Event)
	assert.Equal(t, "Hack Night", regs[0].Event.Title)

	status, resp = api.do(http.MethodGet, "/api/events/my/registrations", &alumniID, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, response.CodeForbidden, resp.Code)

	status, _ = api.do(http.MethodGet, "/api/events/my/registrations", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestHealthHandler(t *testing.T) {
	api := newTestAPI(t)
	status, resp := api.do(http.MethodGet, "/api/health", nil, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, resp.Success)
}

func TestWriteErrorHidesStoreFailures(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	writeError(rec, req.WithContext(context.Background()), errors.New("pq: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
	assert.Contains(t, rec.Body.String(), response.CodeInternal)
}
