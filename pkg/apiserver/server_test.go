package apiserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leadflow/leadflow/pkg/auth"
	"github.com/leadflow/leadflow/pkg/config"
	"github.com/leadflow/leadflow/pkg/controller"
	"github.com/leadflow/leadflow/pkg/eventbus"
	"github.com/leadflow/leadflow/pkg/events"
	"github.com/leadflow/leadflow/pkg/model"
	"github.com/leadflow/leadflow/pkg/store/memory"
)

type healthResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type published struct {
	channel string
	event   eventbus.Event
}

type fakeBus struct {
	mu     sync.Mutex
	events []published
}

func (b *fakeBus) Publish(_ context.Context, channel string, event eventbus.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, published{channel: channel, event: event})
	return nil
}

func (b *fakeBus) inbound(t *testing.T) []events.Event {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []events.Event
	for _, p := range b.events {
		if p.channel != eventbus.ChannelInbound {
			continue
		}
		var e events.Event
		require.NoError(t, p.event.Decode(&e))
		out = append(out, e)
	}
	return out
}

type harness struct {
	server *Server
	st     *memory.Store
	bus    *fakeBus
	tokens *auth.TokenManager
	owner  uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := &config.Config{Auth: config.AuthConfig{JWTSecret: "test-secret", TokenTTL: time.Hour}}
	st := memory.New()
	bus := &fakeBus{}
	programs := controller.NewProgramController(st, bus, zap.NewNop())
	return &harness{
		server: NewServer(programs, bus, cfg, zap.NewNop()),
		st:     st,
		bus:    bus,
		tokens: auth.NewTokenManager([]byte("test-secret"), time.Hour),
		owner:  uuid.New(),
	}
}

func (h *harness) token(t *testing.T, owner uuid.UUID, scopes ...string) string {
	t.Helper()
	token, err := h.tokens.Generate(owner, scopes...)
	require.NoError(t, err)
	return token
}

func (h *harness) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	h.server.Router().ServeHTTP(recorder, req)
	return recorder
}

func programBody() map[string]interface{} {
	return map[string]interface{}{
		"name":                "onboarding",
		"send_days":           []int{1, 2, 3, 4, 5},
		"window_start_minute": 540,
		"window_end_minute":   1020,
		"stop_on_bounce":      false,
		"steps": []map[string]interface{}{
			{"step_number": 1, "channel": "email", "subject": "Hi {{first_name}}", "body": "Hello"},
			{"step_number": 2, "channel": "call", "delay_days": 2},
		},
	}
}

func TestHealthEndpoint(t *testing.T) {
	h := newHarness(t)

	recorder := h.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var response healthResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, "ok", response.Status)
	assert.NotEmpty(t, recorder.Header().Get("X-Request-ID"))
}

func TestAPIAuthRequired(t *testing.T) {
	h := newHarness(t)

	recorder := h.do(t, http.MethodPost, "/api/v1/events", "", nil)
	require.Equal(t, http.StatusUnauthorized, recorder.Code)

	var response errorResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, "missing authorization", response.Error)

	recorder = h.do(t, http.MethodPost, "/api/v1/events", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestScopesAreEnforced(t *testing.T) {
	h := newHarness(t)
	eventsOnly := h.token(t, h.owner, auth.ScopeEvents)

	recorder := h.do(t, http.MethodPost, "/api/v1/programs", eventsOnly, programBody())
	assert.Equal(t, http.StatusForbidden, recorder.Code)
}

func TestProgramLifecycle(t *testing.T) {
	h := newHarness(t)
	token := h.token(t, h.owner, auth.ScopePrograms)

	recorder := h.do(t, http.MethodPost, "/api/v1/programs", token, programBody())
	require.Equal(t, http.StatusCreated, recorder.Code, recorder.Body.String())

	var created struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Steps  []struct {
			Condition string `json:"condition"`
		} `json:"steps"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &created))
	assert.Equal(t, "draft", created.Status)
	require.Len(t, created.Steps, 2)
	assert.Equal(t, "always", created.Steps[0].Condition)

	programID := uuid.MustParse(created.ID)
	stored, err := h.st.GetProgram(context.Background(), programID)
	require.NoError(t, err)
	assert.Equal(t, h.owner, stored.OwnerID)
	assert.True(t, stored.StopOnReply)
	assert.False(t, stored.StopOnBounce)

	contact := &model.Contact{OwnerID: h.owner, Email: "lead@example.com"}
	h.st.AddContact(contact)

	recorder = h.do(t, http.MethodPost, "/api/v1/programs/"+created.ID+"/activate", token,
		map[string]interface{}{"contact_ids": []string{contact.ID.String()}})
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	assert.JSONEq(t, `{"enrolled":1}`, recorder.Body.String())

	recorder = h.do(t, http.MethodPost, "/api/v1/programs/"+created.ID+"/pause", token, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `{"paused":1}`, recorder.Body.String())

	recorder = h.do(t, http.MethodPost, "/api/v1/programs/"+created.ID+"/pause", token, nil)
	assert.Equal(t, http.StatusConflict, recorder.Code)

	recorder = h.do(t, http.MethodPost, "/api/v1/programs/"+created.ID+"/resume", token, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = h.do(t, http.MethodPut, "/api/v1/programs/"+created.ID+"/steps", token, map[string]interface{}{
		"steps": []map[string]interface{}{{"step_number": 1, "channel": "wait", "delay_hours": 4}},
	})
	require.Equal(t, http.StatusNoContent, recorder.Code, recorder.Body.String())

	recorder = h.do(t, http.MethodGet, "/api/v1/programs/"+created.ID, token, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), `"channel":"wait"`)
}

func TestProgramValidationAndOwnership(t *testing.T) {
	h := newHarness(t)
	token := h.token(t, h.owner, auth.ScopePrograms)

	body := programBody()
	body["steps"] = []map[string]interface{}{{"step_number": 2, "channel": "email"}}
	recorder := h.do(t, http.MethodPost, "/api/v1/programs", token, body)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = h.do(t, http.MethodPost, "/api/v1/programs", token, programBody())
	require.Equal(t, http.StatusCreated, recorder.Code)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &created))

	stranger := h.token(t, uuid.New(), auth.ScopePrograms)
	recorder = h.do(t, http.MethodGet, "/api/v1/programs/"+created.ID, stranger, nil)
	assert.Equal(t, http.StatusNotFound, recorder.Code)

	recorder = h.do(t, http.MethodGet, "/api/v1/programs/not-a-uuid", token, nil)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestEventIngest(t *testing.T) {
	h := newHarness(t)
	token := h.token(t, h.owner, auth.ScopeEvents)
	enrollmentID := uuid.New()

	recorder := h.do(t, http.MethodPost, "/api/v1/events", token, map[string]interface{}{
		"type":          "reply",
		"enrollment_id": enrollmentID.String(),
	})
	require.Equal(t, http.StatusAccepted, recorder.Code, recorder.Body.String())

	got := h.bus.inbound(t)
	require.Len(t, got, 1)
	assert.Equal(t, events.TypeReply, got[0].Type)
	assert.Equal(t, enrollmentID, got[0].EnrollmentID)
	assert.Equal(t, h.owner, got[0].OwnerID)
	assert.False(t, got[0].OccurredAt.IsZero())

	recorder = h.do(t, http.MethodPost, "/api/v1/events", token, map[string]interface{}{"type": "forwarded"})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Len(t, h.bus.inbound(t), 1)
}

func TestTrackingEndpoints(t *testing.T) {
	h := newHarness(t)
	enrollmentID := uuid.New()

	recorder := h.do(t, http.MethodGet, "/track/open/"+enrollmentID.String(), "", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "image/gif", recorder.Header().Get("Content-Type"))

	link, err := h.tokens.SignLink(enrollmentID, "https://example.com/demo?ref=mail")
	require.NoError(t, err)
	recorder = h.do(t, http.MethodGet, "/track/click/"+enrollmentID.String()+"?t="+url.QueryEscape(link), "", nil)
	require.Equal(t, http.StatusFound, recorder.Code)
	assert.Equal(t, "https://example.com/demo?ref=mail", recorder.Header().Get("Location"))

	// unsigned targets and links signed for another enrollment are refused
	recorder = h.do(t, http.MethodGet, "/track/click/"+enrollmentID.String()+"?url=https%3A%2F%2Fevil.example.com", "", nil)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	recorder = h.do(t, http.MethodGet, "/track/click/"+uuid.NewString()+"?t="+url.QueryEscape(link), "", nil)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	forged, err := auth.NewTokenManager([]byte("guessed"), 0).SignLink(enrollmentID, "https://evil.example.com")
	require.NoError(t, err)
	recorder = h.do(t, http.MethodGet, "/track/click/"+enrollmentID.String()+"?t="+url.QueryEscape(forged), "", nil)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Empty(t, recorder.Header().Get("Location"))

	got := h.bus.inbound(t)
	require.Len(t, got, 2)
	assert.Equal(t, events.TypeOpen, got[0].Type)
	assert.Equal(t, events.TypeClick, got[1].Type)
	assert.Equal(t, enrollmentID, got[1].EnrollmentID)
}
