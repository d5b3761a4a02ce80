// Package whatsapp is a thin client over a WhatsApp Business provider's
// HTTP API (the MessageBird/360dialog-style `<base>/v1/messages` surface
// spec.md §4.3/§6.2 describes), not a protocol-level multi-device client.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	pkgerrors "github.com/AzielCF/az-wap/pkg/errors"
)

const requestTimeout = 20 * time.Second

// Client sends and registers inbound webhooks for a single Integration's
// provider credential. One Client per (tenant, mode) pair.
type Client struct {
	httpClient *http.Client
	baseURL    string
	keyHeader  string
	providerKey string
}

func New(baseURL, keyHeader, providerKey string) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: requestTimeout},
		baseURL:     baseURL,
		keyHeader:   keyHeader,
		providerKey: providerKey,
	}
}

type sendTextRequest struct {
	To      string      `json:"to"`
	Type    string      `json:"type"`
	Text    textPayload `json:"text"`
}

type textPayload struct {
	Body string `json:"body"`
}

type sendTemplateRequest struct {
	To       string          `json:"to"`
	Type     string          `json:"type"`
	Template templatePayload `json:"template"`
}

type templatePayload struct {
	Name     string        `json:"name"`
	Language languagePart  `json:"language"`
	Params   []string      `json:"params,omitempty"`
}

type languagePart struct {
	Code string `json:"code"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendText sends a free-form text message and returns the provider's
// assigned message id, or "" if the provider echoed none back.
func (c *Client) SendText(ctx context.Context, to, body string) (string, error) {
	return c.send(ctx, sendTextRequest{To: to, Type: "text", Text: textPayload{Body: body}})
}

// SendTemplate sends a pre-approved template message, required for
// provider-initiated messages outside the 24h customer-service window
// (spec.md §4.10/§4.11 outreach).
func (c *Client) SendTemplate(ctx context.Context, to, templateName, languageCode string, params []string) (string, error) {
	return c.send(ctx, sendTemplateRequest{
		To:   to,
		Type: "template",
		Template: templatePayload{
			Name:     templateName,
			Language: languagePart{Code: languageCode},
			Params:   params,
		},
	})
}

func (c *Client) send(ctx context.Context, payload interface{}) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(c.keyHeader, c.providerKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &pkgerrors.GatewayError{Kind: pkgerrors.ErrSend, Message: err.Error()}
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	if err := classifyStatus(resp.StatusCode, data); err != nil {
		return "", err
	}

	var out sendResponse
	if err := json.Unmarshal(data, &out); err != nil {
		logrus.WithError(err).Warn("[WHATSAPP] send succeeded but response body was not decodable")
		return "", nil
	}
	if len(out.Messages) == 0 {
		return "", nil
	}
	return out.Messages[0].ID, nil
}

// RegisterWebhook tells the provider where to deliver inbound events.
// A non-2xx response is classified the same way as for sends (404
// surfaces as ErrEndpoint).
func (c *Client) RegisterWebhook(ctx context.Context, callbackURL string) error {
	payload := struct {
		URL string `json:"url"`
	}{URL: callbackURL}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/configs/webhook", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(c.keyHeader, c.providerKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &pkgerrors.GatewayError{Kind: pkgerrors.ErrSend, Message: err.Error()}
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	return classifyStatus(resp.StatusCode, data)
}

func classifyStatus(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	msg := fmt.Sprintf("provider responded %d", status)
	switch status {
	case http.StatusUnauthorized:
		return &pkgerrors.GatewayError{Kind: pkgerrors.ErrAuth, Message: msg}
	case http.StatusForbidden:
		return &pkgerrors.GatewayError{Kind: pkgerrors.ErrPermission, Message: msg}
	case http.StatusNotFound:
		return &pkgerrors.GatewayError{Kind: pkgerrors.ErrEndpoint, Message: msg}
	default:
		return &pkgerrors.GatewayError{Kind: &pkgerrors.HTTPError{Code: status}, Message: msg}
	}
}
