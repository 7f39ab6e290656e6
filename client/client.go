package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/candymint/service/candymachine"
	"github.com/brojonat/candymint/service/minter"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when the server answers 404.
	ErrNotFound = errors.New("not found")

	// ErrMintInFlight is returned when the wallet already has a mint running.
	ErrMintInFlight = errors.New("a mint is already in progress for this wallet")
)

// Attempt is a recorded mint attempt.
type Attempt struct {
	Signature   string          `json:"signature"`
	Network     string          `json:"network"`
	Machine     string          `json:"machine"`
	Wallet      string          `json:"wallet"`
	MintAddress *string         `json:"mint_address,omitempty"`
	Outcome     string          `json:"outcome"`
	State       string          `json:"state"`
	Cause       *string         `json:"cause,omitempty"`
	Message     string          `json:"message"`
	ErrorCode   *int64          `json:"error_code,omitempty"`
	Price       decimal.Decimal `json:"price"`
	PriceUnit   string          `json:"price_unit"`
	Polls       int32           `json:"polls"`
	SubmittedAt time.Time       `json:"submitted_at"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
}

// MintResult is the result of a finished durable mint.
type MintResult struct {
	Wallet          string                 `json:"wallet"`
	Signature       string                 `json:"signature,omitempty"`
	Decision        *candymachine.Decision `json:"decision,omitempty"`
	PolicyViolation string                 `json:"policy_violation,omitempty"`
	Outcome         *minter.Outcome        `json:"outcome,omitempty"`
	Error           *string                `json:"error,omitempty"`
}

// Mint is the state of a durable mint. Result is set once it completed.
type Mint struct {
	WorkflowID string      `json:"workflow_id"`
	Status     string      `json:"status"`
	Result     *MintResult `json:"result,omitempty"`
}

// Client is the HTTP client for the candymint service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new candymint service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Snapshot fetches the current snapshot and the anonymous decision.
func (c *Client) Snapshot(ctx context.Context) (*minter.View, error) {
	var view minter.View
	if err := c.getJSON(ctx, "/api/v1/snapshot", &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// Eligibility evaluates wallet against a fresh snapshot.
func (c *Client) Eligibility(ctx context.Context, wallet string) (*minter.View, error) {
	var view minter.View
	if err := c.getJSON(ctx, "/api/v1/eligibility/"+url.PathEscape(wallet), &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// ListAttempts lists the recorded attempts of wallet, newest first.
// Zero limit and offset use the server defaults.
func (c *Client) ListAttempts(ctx context.Context, wallet string, limit, offset int) ([]*Attempt, error) {
	q := url.Values{"wallet": {wallet}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}

	var response struct {
		Attempts []*Attempt `json:"attempts"`
	}
	if err := c.getJSON(ctx, "/api/v1/attempts?"+q.Encode(), &response); err != nil {
		return nil, err
	}
	return response.Attempts, nil
}

// GetAttempt fetches one recorded attempt by signature.
func (c *Client) GetAttempt(ctx context.Context, signature string) (*Attempt, error) {
	var attempt Attempt
	if err := c.getJSON(ctx, "/api/v1/attempts/"+url.PathEscape(signature), &attempt); err != nil {
		return nil, err
	}
	return &attempt, nil
}

// StartMint asks the server to start a durable mint for wallet and returns
// the workflow ID.
func (c *Client) StartMint(ctx context.Context, wallet string) (string, error) {
	body, err := json.Marshal(map[string]string{"wallet": wallet})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/mints", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return "", c.parseErrorResponse(resp)
	}

	var response struct {
		WorkflowID string `json:"workflow_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debug("mint started", "wallet", wallet, "workflow_id", response.WorkflowID)
	return response.WorkflowID, nil
}

// GetMint reports a durable mint.
func (c *Client) GetMint(ctx context.Context, workflowID string) (*Mint, error) {
	var mint Mint
	if err := c.getJSON(ctx, "/api/v1/mints/"+url.PathEscape(workflowID), &mint); err != nil {
		return nil, err
	}
	return &mint, nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	return nil
}

// Stream subscribes to the machine's event stream and calls fn for every
// event until fn returns false, ctx is done or the stream ends. A non-empty
// wallet drops other wallets' events server side.
func (c *Client) Stream(ctx context.Context, wallet string, fn func(*minter.Event) bool) error {
	u := c.baseURL + "/api/v1/stream/events"
	if wallet != "" {
		u += "?" + url.Values{"wallet": {wallet}}.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream outlives the default request timeout.
	streaming := *c.httpClient
	streaming.Timeout = 0
	resp, err := streaming.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	var name string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			switch minter.EventType(name) {
			case minter.EventSnapshotUpdated, minter.EventEligibilityUpdated, minter.EventMintOutcome:
			default:
				continue
			}
			var event minter.Event
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				c.logger.Warn("skipping malformed event", "event", name, "error", err)
				continue
			}
			if err := event.Validate(); err != nil {
				c.logger.Warn("skipping invalid event", "event", name, "error", err)
				continue
			}
			if !fn(&event) {
				return nil
			}
		case line == "":
			name = ""
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream failed: %w", err)
	}
	return nil
}

// AwaitOutcome blocks until a mint_outcome event arrives for wallet.
func (c *Client) AwaitOutcome(ctx context.Context, wallet string) (*minter.Outcome, error) {
	var outcome *minter.Outcome
	err := c.Stream(ctx, wallet, func(e *minter.Event) bool {
		if e.Type == minter.EventMintOutcome && e.Wallet == wallet {
			outcome = e.Outcome
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if outcome == nil {
		return nil, fmt.Errorf("event stream closed before an outcome for %s arrived", wallet)
	}
	return outcome, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, errResp.Error)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrMintInFlight, errResp.Error)
	}
	return fmt.Errorf("request failed: %s", errResp.Error)
}
