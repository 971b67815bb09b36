// Package whatsapp implements the messaging provider against the
// WhatsApp Business Cloud API.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/voyagerhq/voyager/pkg/dispatch"
)

const defaultTimeout = 15 * time.Second

type Provider struct {
	baseURL     string
	accessToken string
	client      *http.Client
	logger      *slog.Logger
}

func NewProvider(baseURL, accessToken string, logger *slog.Logger) *Provider {
	return &Provider{
		baseURL:     baseURL,
		accessToken: accessToken,
		client:      &http.Client{Timeout: defaultTimeout},
		logger:      logger.With("module", "whatsapp"),
	}
}

type sendPayload struct {
	To         string            `json:"to"`
	TemplateID string            `json:"template_id"`
	Body       string            `json:"body,omitempty"`
	Variables  map[string]string `json:"variables,omitempty"`
	Buttons    []buttonPayload   `json:"buttons,omitempty"`
}

type buttonPayload struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
	Error     struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *Provider) Send(ctx context.Context, req *dispatch.SendRequest) (*dispatch.Submission, error) {
	if req.Phone == "" {
		return nil, &dispatch.PermanentError{Reason: "customer has no phone number"}
	}

	payload := sendPayload{
		To:         req.Phone,
		TemplateID: req.TemplateID,
		Body:       req.Body,
		Variables:  req.Variables,
	}

	for _, button := range req.Buttons {
		payload.Buttons = append(payload.Buttons, buttonPayload{ID: button.ID, Label: button.Label})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode send payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.accessToken)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			p.logger.ErrorContext(ctx, "failed to close response body", "error", err)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var decoded sendResponse

	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if decoded.MessageID == "" {
			return nil, fmt.Errorf("provider returned no message id (status %d)", resp.StatusCode)
		}

		return &dispatch.Submission{MessageID: decoded.MessageID, SubmittedAt: time.Now().UTC()}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return nil, &dispatch.PermanentError{
			Reason: fmt.Sprintf("provider rejected send (status %d): %s", resp.StatusCode, decoded.Error.Message),
		}
	default:
		return nil, fmt.Errorf("provider unavailable (status %d): %s", resp.StatusCode, decoded.Error.Message)
	}
}
