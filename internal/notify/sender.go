package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/askwhyharsh/safezone/pkg/logger"
)

// Sender delivers one SMS to an E.164 number.
type Sender interface {
	Send(ctx context.Context, to, body string) error
}

// RelaySender posts to an SMS relay function that holds the carrier
// credentials.
type RelaySender struct {
	httpClient *http.Client
	url        string
	token      string
}

func NewRelaySender(url, token string, timeout time.Duration) *RelaySender {
	return &RelaySender{
		httpClient: &http.Client{Timeout: timeout},
		url:        url,
		token:      token,
	}
}

type relayRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

type relayError struct {
	Error string `json:"error"`
}

func (s *RelaySender) Send(ctx context.Context, to, body string) error {
	payload, err := json.Marshal(relayRequest{To: to, Message: body})
	if err != nil {
		return fmt.Errorf("marshal relay request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending to relay: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var re relayError
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&re)
		if re.Error == "" {
			re.Error = "failed to send SMS"
		}
		return fmt.Errorf("relay returned %d: %s", resp.StatusCode, re.Error)
	}
	return nil
}

// TwilioSender talks to the Twilio Messages API directly.
type TwilioSender struct {
	httpClient *http.Client
	baseURL    string
	accountSID string
	authToken  string
	from       string
}

func NewTwilioSender(baseURL, accountSID, authToken, from string, timeout time.Duration) *TwilioSender {
	return &TwilioSender{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
	}
}

type twilioError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *TwilioSender) Send(ctx context.Context, to, body string) error {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, url.PathEscape(s.accountSID))
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", s.from)
	form.Set("Body", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.SetBasicAuth(s.accountSID, s.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending to twilio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var te twilioError
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&te)
		if te.Message == "" {
			te.Message = "failed to send SMS"
		}
		return fmt.Errorf("twilio returned %d (code %d): %s", resp.StatusCode, te.Code, te.Message)
	}
	return nil
}

// LogSender only logs; used when no SMS provider is configured.
type LogSender struct {
	logger logger.Logger
}

func NewLogSender(log logger.Logger) *LogSender {
	return &LogSender{logger: log}
}

func (s *LogSender) Send(_ context.Context, to, body string) error {
	s.logger.Info("SMS (not sent, no provider configured)", "to", to, "body", body)
	return nil
}
