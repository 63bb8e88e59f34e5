// Package personalize asks a text-generation service for per-contact
// outreach copy.
package personalize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/leadflow/leadflow/pkg/config"
	"github.com/leadflow/leadflow/pkg/model"
)

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(cfg *config.PersonalizationConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type request struct {
	FirstName          string `json:"first_name"`
	LastName           string `json:"last_name,omitempty"`
	Company            string `json:"company,omitempty"`
	Position           string `json:"position,omitempty"`
	Website            string `json:"website,omitempty"`
	SenderCompany      string `json:"sender_company,omitempty"`
	ProductDescription string `json:"product_description,omitempty"`
}

func (c *Client) GeneratePersonalization(ctx context.Context, contact *model.Contact, program *model.Program) (model.Personalization, error) {
	body, err := json.Marshal(request{
		FirstName:          contact.FirstName,
		LastName:           contact.LastName,
		Company:            contact.Company,
		Position:           contact.Position,
		Website:            contact.Website,
		SenderCompany:      program.CompanyName,
		ProductDescription: program.ProductDescription,
	})
	if err != nil {
		return model.Personalization{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/personalize", bytes.NewReader(body))
	if err != nil {
		return model.Personalization{}, fmt.Errorf("build personalization request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return model.Personalization{}, fmt.Errorf("personalization request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.Personalization{}, fmt.Errorf("personalization service returned %d", resp.StatusCode)
	}

	var out model.Personalization
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return model.Personalization{}, fmt.Errorf("decode personalization: %w", err)
	}
	return out, nil
}
