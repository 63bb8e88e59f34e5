package personalize

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadflow/leadflow/pkg/config"
	"github.com/leadflow/leadflow/pkg/model"
)

func TestGeneratePersonalization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/personalize", r.URL.Path)
		var req request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Acme", req.Company)
		assert.Equal(t, "LeadFlow", req.SenderCompany)
		_, _ = w.Write([]byte(`{"first_name":"Ada","opening_line":"Loved your talk","pain_point":"manual follow-ups"}`))
	}))
	defer srv.Close()

	c := NewClient(&config.PersonalizationConfig{BaseURL: srv.URL})
	p, err := c.GeneratePersonalization(context.Background(),
		&model.Contact{FirstName: "Ada", Company: "Acme"},
		&model.Program{CompanyName: "LeadFlow"},
	)
	require.NoError(t, err)
	assert.Equal(t, "Loved your talk", p.OpeningLine)
	assert.Equal(t, "manual follow-ups", p.PainPoint)
}

func TestGeneratePersonalizationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(&config.PersonalizationConfig{BaseURL: srv.URL})
	_, err := c.GeneratePersonalization(context.Background(), &model.Contact{}, &model.Program{})
	assert.ErrorContains(t, err, "429")
}
