// Package voice places outbound calls through a hosted voice-assistant API.
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/leadflow/leadflow/pkg/config"
	"github.com/leadflow/leadflow/pkg/executor"
)

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *zap.Logger
}

func NewClient(cfg *config.VoiceConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type callCustomer struct {
	Number string `json:"number"`
	Name   string `json:"name,omitempty"`
}

type callRequest struct {
	AssistantID string            `json:"assistantId"`
	Customer    callCustomer      `json:"customer"`
	Context     string            `json:"context,omitempty"`
	Metadata    map[string]string `json:"metadata"`
}

type callResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// InitiateCall asks the provider to dial req.Phone. A 4xx answer is reported
// as an unsuccessful SendResult; transport failures and 5xx are errors.
func (c *Client) InitiateCall(ctx context.Context, req executor.CallRequest) (executor.SendResult, error) {
	body, err := json.Marshal(callRequest{
		AssistantID: req.AssistantID,
		Customer:    callCustomer{Number: req.Phone, Name: req.CustomerName},
		Context:     req.Context,
		Metadata:    map[string]string{"enrollment_id": req.EnrollmentID.String()},
	})
	if err != nil {
		return executor.SendResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/call", bytes.NewReader(body))
	if err != nil {
		return executor.SendResult{}, fmt.Errorf("build call request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return executor.SendResult{}, fmt.Errorf("call request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return executor.SendResult{}, fmt.Errorf("read call response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return executor.SendResult{}, fmt.Errorf("voice provider returned %d", resp.StatusCode)
	}

	var out callResponse
	_ = json.Unmarshal(raw, &out)
	if resp.StatusCode >= 400 {
		msg := out.Message
		if msg == "" {
			msg = fmt.Sprintf("voice provider returned %d", resp.StatusCode)
		}
		c.logger.Warn("call rejected",
			zap.String("enrollment_id", req.EnrollmentID.String()),
			zap.Int("status", resp.StatusCode),
			zap.String("message", msg),
		)
		return executor.SendResult{Success: false, Error: msg}, nil
	}

	return executor.SendResult{Success: true, ExternalID: out.ID}, nil
}
