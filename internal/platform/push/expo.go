package push

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/illmade-knight/go-activity-notifier/pkg/notify"
	"github.com/rs/zerolog"
)

// DefaultExpoURL is the Expo push send endpoint.
const DefaultExpoURL = "https://exp.host/--/api/v2/push/send"

const (
	defaultExpoTimeout = 10 * time.Second
	maxExpoResponse    = 1 << 20
)

// ExpoConfig configures the Expo gateway client.
type ExpoConfig struct {
	URL         string
	AccessToken string
	Timeout     time.Duration
}

// ExpoDispatcher sends one push per request to the Expo push service.
type ExpoDispatcher struct {
	url         string
	accessToken string
	client      *http.Client
	logger      zerolog.Logger
}

// NewExpoDispatcher creates the dispatcher. A nil client gets a default
// client with the configured timeout.
func NewExpoDispatcher(cfg ExpoConfig, client *http.Client, logger zerolog.Logger) *ExpoDispatcher {
	url := cfg.URL
	if url == "" {
		url = DefaultExpoURL
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultExpoTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &ExpoDispatcher{
		url:         url,
		accessToken: cfg.AccessToken,
		client:      client,
		logger:      logger.With().Str("component", "ExpoDispatcher").Logger(),
	}
}

type expoMessage struct {
	To        string            `json:"to"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data,omitempty"`
	Sound     string            `json:"sound"`
	Priority  string            `json:"priority"`
	ChannelID string            `json:"channelId"`
}

type expoTicket struct {
	Status  string          `json:"status"`
	ID      string          `json:"id,omitempty"`
	Message string          `json:"message,omitempty"`
	Details json.RawMessage `json:"details,omitempty"`
}

type expoError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type expoResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []expoError     `json:"errors"`
}

// Dispatch posts the notification for a single token and checks the push
// ticket. Any non-ok outcome is returned as a *notify.DeliveryError.
func (d *ExpoDispatcher) Dispatch(ctx context.Context, token string, record *notify.NotificationRecord) (*notify.Receipt, error) {
	reqBody, err := json.Marshal(expoMessage{
		To:        token,
		Title:     record.Title,
		Body:      record.Body,
		Data:      payload(record),
		Sound:     defaultSound,
		Priority:  "high",
		ChannelID: defaultChannel,
	})
	if err != nil {
		return nil, deliveryError(token, record, 0, "", fmt.Errorf("failed to marshal expo message: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, deliveryError(token, record, 0, "", fmt.Errorf("failed to create expo request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	req.Header.Set("Content-Type", "application/json")
	if d.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+d.accessToken)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, deliveryError(token, record, 0, "", fmt.Errorf("expo request failed: %w", err))
	}
	defer resp.Body.Close()

	raw, err := readBody(resp)
	if err != nil {
		return nil, deliveryError(token, record, resp.StatusCode, "", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, deliveryError(token, record, resp.StatusCode, string(raw), fmt.Errorf("expo returned %s", resp.Status))
	}

	var decoded expoResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, deliveryError(token, record, resp.StatusCode, string(raw), fmt.Errorf("failed to decode expo response: %w", err))
	}
	if len(decoded.Errors) > 0 {
		return nil, deliveryError(token, record, resp.StatusCode, string(raw),
			fmt.Errorf("expo error %s: %s", decoded.Errors[0].Code, decoded.Errors[0].Message))
	}

	ticket, err := firstTicket(decoded.Data)
	if err != nil {
		return nil, deliveryError(token, record, resp.StatusCode, string(raw), err)
	}
	if ticket.Status != "ok" {
		return nil, deliveryError(token, record, resp.StatusCode, string(raw),
			fmt.Errorf("expo ticket %s: %s", ticket.Status, ticket.Message))
	}

	d.logger.Debug().Str("token", token).Str("ticket_id", ticket.ID).Msg("Expo accepted push.")
	return &notify.Receipt{Token: token, ID: ticket.ID, Status: ticket.Status, Raw: raw}, nil
}

// firstTicket accepts the single-object form and the array form Expo uses
// for batched requests.
func firstTicket(data json.RawMessage) (*expoTicket, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, errors.New("expo response has no ticket")
	}
	if trimmed[0] == '[' {
		var tickets []expoTicket
		if err := json.Unmarshal(trimmed, &tickets); err != nil {
			return nil, fmt.Errorf("failed to decode expo tickets: %w", err)
		}
		if len(tickets) == 0 {
			return nil, errors.New("expo response has no ticket")
		}
		return &tickets[0], nil
	}
	var ticket expoTicket
	if err := json.Unmarshal(trimmed, &ticket); err != nil {
		return nil, fmt.Errorf("failed to decode expo ticket: %w", err)
	}
	return &ticket, nil
}

func readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip response: %w", err)
		}
		defer gz.Close()
		reader = gz
	}
	raw, err := io.ReadAll(io.LimitReader(reader, maxExpoResponse))
	if err != nil {
		return nil, fmt.Errorf("failed to read expo response: %w", err)
	}
	return raw, nil
}
