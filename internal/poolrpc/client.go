package poolrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"shieldpool/internal/orchestrator"
	"shieldpool/internal/pool"
)

// DefaultTimeout bounds a single request.
const DefaultTimeout = 5 * time.Second

// Client talks to a Server and implements orchestrator.Ledger.
type Client struct {
	baseURL  string
	senderID string
	http     *http.Client
}

var _ orchestrator.Ledger = (*Client)(nil)

// NewClient targets address, either host:port or a full URL.
func NewClient(address, senderID string) *Client {
	base := address
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL:  strings.TrimRight(base, "/"),
		senderID: senderID,
		http:     &http.Client{Timeout: DefaultTimeout},
	}
}

// Submit implements orchestrator.Ledger. Pool rejections come back as the
// matching pool sentinel so callers can use errors.Is.
func (c *Client) Submit(ctx context.Context, sub *orchestrator.Submission) (string, error) {
	resp, err := c.send(ctx, string(sub.Kind), sub)
	if err != nil {
		return "", err
	}
	return resp.TxID, nil
}

// Status fetches the pool status.
func (c *Client) Status(ctx context.Context) (*pool.Status, error) {
	resp, err := c.send(ctx, TypeStatus, nil)
	if err != nil {
		return nil, err
	}
	if resp.Status == nil {
		return nil, fmt.Errorf("poolrpc: status reply without status")
	}
	return resp.Status, nil
}

func (c *Client) send(ctx context.Context, messageType string, payload any) (*Response, error) {
	msg := Message{Type: messageType, SenderID: c.senderID}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		msg.Payload = raw
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/message", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	defer httpResp.Body.Close()

	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("pool returned %s with unreadable body: %w", httpResp.Status, err)
	}
	if httpResp.StatusCode != http.StatusOK || !resp.OK {
		if sentinel := errorOf(resp.Code); sentinel != nil {
			return nil, fmt.Errorf("%w (remote: %s)", sentinel, resp.Error)
		}
		return nil, fmt.Errorf("pool returned %s: %s", httpResp.Status, resp.Error)
	}
	return &resp, nil
}
