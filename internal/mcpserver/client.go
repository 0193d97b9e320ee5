package mcpserver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// Config holds the configuration for connecting to a sentinel server.
type Config struct {
	APIURL  string // Base URL, e.g. "http://localhost:8080"
	APIKey  string // operator key for assessment history
	Timeout time.Duration
}

// SentinelClient is a pure HTTP client for the sentinel API.
type SentinelClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewSentinelClient creates a new client.
func NewSentinelClient(cfg Config) *SentinelClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SentinelClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// apiError represents an error response from the server.
type apiError struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Reasons []string `json:"reasons"`
}

// doRequest makes an HTTP request and returns the response body. Status
// codes listed in accept are returned as successes.
func (c *SentinelClient) doRequest(ctx context.Context, method, path string, query url.Values, body any, accept ...int) (json.RawMessage, int, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		for _, code := range accept {
			if code == resp.StatusCode {
				return json.RawMessage(respBody), resp.StatusCode, nil
			}
		}
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil {
			switch {
			case apiErr.Message != "":
				return nil, resp.StatusCode, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
			case len(apiErr.Reasons) > 0:
				return nil, resp.StatusCode, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Reasons[0])
			}
		}
		return nil, resp.StatusCode, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), resp.StatusCode, nil
}

// Transaction is the input shared by analyze and seal calls.
type Transaction struct {
	From   string
	To     string
	Amount string
	Lat    float64
	Lon    float64
	Hour   *int
}

// Analyze scores a transaction.
func (c *SentinelClient) Analyze(ctx context.Context, tx Transaction) (json.RawMessage, error) {
	body := map[string]any{
		"fromAccount": tx.From,
		"toAccount":   tx.To,
		"amount":      tx.Amount,
		"lat":         tx.Lat,
		"lon":         tx.Lon,
	}
	if tx.Hour != nil {
		body["hour"] = *tx.Hour
	}
	raw, _, err := c.doRequest(ctx, http.MethodPost, "/analyze", nil, body)
	return raw, err
}

// SealPayment scores a payment and seals it into the audit ledger. A
// blocked payment is not an error; the raw 403 body is returned.
func (c *SentinelClient) SealPayment(ctx context.Context, tx Transaction) (json.RawMessage, error) {
	body := map[string]any{
		"accountId":  tx.From,
		"toAccount":  tx.To,
		"amount":     tx.Amount,
		"currentLat": tx.Lat,
		"currentLon": tx.Lon,
	}
	if tx.Hour != nil {
		body["hour"] = *tx.Hour
	}
	raw, _, err := c.doRequest(ctx, http.MethodPost, "/v1/audit/payment", nil, body, http.StatusForbidden)
	return raw, err
}

// Health returns the engine report.
func (c *SentinelClient) Health(ctx context.Context) (json.RawMessage, error) {
	raw, _, err := c.doRequest(ctx, http.MethodGet, "/health", nil, nil)
	return raw, err
}

// EngineConfig returns the scoring configuration.
func (c *SentinelClient) EngineConfig(ctx context.Context) (json.RawMessage, error) {
	raw, _, err := c.doRequest(ctx, http.MethodGet, "/config", nil, nil)
	return raw, err
}

// Assessments lists recent assessments for account. An account with no
// history yields a nil body and no error.
func (c *SentinelClient) Assessments(ctx context.Context, account string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	raw, code, err := c.doRequest(ctx, http.MethodGet, "/v1/assessments/"+url.PathEscape(account), q, nil, http.StatusNotFound)
	if code == http.StatusNotFound {
		return nil, nil
	}
	return raw, err
}

// Witness returns the witness for a sealed transaction and whether it
// verified.
func (c *SentinelClient) Witness(ctx context.Context, transactionID string) (json.RawMessage, error) {
	raw, _, err := c.doRequest(ctx, http.MethodGet, "/v1/audit/witness/"+url.PathEscape(transactionID), nil, nil)
	return raw, err
}

// Blocks lists recent audit blocks.
func (c *SentinelClient) Blocks(ctx context.Context, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	raw, _, err := c.doRequest(ctx, http.MethodGet, "/v1/audit/blocks", q, nil)
	return raw, err
}
