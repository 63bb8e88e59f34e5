package voice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leadflow/leadflow/pkg/config"
	"github.com/leadflow/leadflow/pkg/executor"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(&config.VoiceConfig{BaseURL: srv.URL, APIKey: "key-1"}, zap.NewNop())
}

func TestInitiateCall(t *testing.T) {
	enrollmentID := uuid.New()
	var got callRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/call", r.URL.Path)
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(callResponse{ID: "call-9", Status: "queued"})
	})

	res, err := c.InitiateCall(context.Background(), executor.CallRequest{
		EnrollmentID: enrollmentID,
		Phone:        "+15550100",
		AssistantID:  "asst-1",
		CustomerName: "Ada Lovelace",
		Context:      "Pain point: manual follow-ups",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "call-9", res.ExternalID)

	assert.Equal(t, "asst-1", got.AssistantID)
	assert.Equal(t, "+15550100", got.Customer.Number)
	assert.Equal(t, enrollmentID.String(), got.Metadata["enrollment_id"])
}

func TestInitiateCallRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"invalid number"}`))
	})

	res, err := c.InitiateCall(context.Background(), executor.CallRequest{Phone: "x"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "invalid number", res.Error)
}

func TestInitiateCallServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.InitiateCall(context.Background(), executor.CallRequest{Phone: "+1"})
	assert.ErrorContains(t, err, "502")
}
