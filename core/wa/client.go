// Package wa is the WhatsApp Cloud API transport: an outbound Graph API
// client and the inbound webhook server.
package wa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/mukisa/paybot/core/logger"
	"github.com/mukisa/paybot/core/netutil"
)

// ClientConfig holds the Graph API credentials.
type ClientConfig struct {
	BaseURL       string
	APIVersion    string
	Token         string
	PhoneNumberID string
	Timeout       time.Duration
}

// Client sends messages through the Graph API.
type Client struct {
	cfg  ClientConfig
	http *http.Client
}

// NewClient returns a Client with a bounded request timeout.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://graph.facebook.com"
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "v18.0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) messagesURL() string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/" + c.cfg.APIVersion + "/" + c.cfg.PhoneNumberID + "/messages"
}

type textPayload struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Text             textBody     `json:"text"`
	Context          *replyTarget `json:"context,omitempty"`
}

type textBody struct {
	Body string `json:"body"`
}

type replyTarget struct {
	MessageID string `json:"message_id"`
}

type statusPayload struct {
	MessagingProduct string `json:"messaging_product"`
	Status           string `json:"status"`
	MessageID        string `json:"message_id"`
}

// SendText delivers a plain text message to the given phone number.
func (c *Client) SendText(ctx context.Context, to, text string) error {
	return c.sendReply(ctx, to, text, "")
}

// SendReply delivers a text message threaded onto an earlier inbound message.
func (c *Client) SendReply(ctx context.Context, to, text, inReplyTo string) error {
	return c.sendReply(ctx, to, text, inReplyTo)
}

func (c *Client) sendReply(ctx context.Context, to, text, inReplyTo string) error {
	p := textPayload{
		MessagingProduct: "whatsapp",
		To:               to,
		Text:             textBody{Body: text},
	}
	if inReplyTo != "" {
		p.Context = &replyTarget{MessageID: inReplyTo}
	}
	if err := c.post(ctx, p); err != nil {
		return fmt.Errorf("wa: send message: %w", err)
	}
	logger.Debug(ctx, "wa", "wa.send.ok",
		slog.String("identity", to),
	)
	return nil
}

// MarkRead flags an inbound message as read so the sender sees blue ticks.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	p := statusPayload{
		MessagingProduct: "whatsapp",
		Status:           "read",
		MessageID:        messageID,
	}
	if err := c.post(ctx, p); err != nil {
		return fmt.Errorf("wa: mark read: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.messagesURL(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		logger.Warn(ctx, "wa", "wa.request.failed",
			slog.Duration("duration", time.Since(start)),
			slog.Any("err", err),
		)
		if netutil.ShouldRetry(err) {
			return fmt.Errorf("graph api unreachable: %w", err)
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		logger.Warn(ctx, "wa", "wa.request.status",
			slog.Int("http_code", resp.StatusCode),
			slog.String("payload", logger.SanitizeLimit(string(detail), 512)),
		)
		if netutil.RetryableStatus(resp.StatusCode) {
			return fmt.Errorf("graph api unavailable (%d)", resp.StatusCode)
		}
		return fmt.Errorf("graph api status %d", resp.StatusCode)
	}
	return nil
}
