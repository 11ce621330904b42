// Package client talks to a running blockledger server over its HTTP API.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/manifest-network/blockledger/internal/config"
	"github.com/manifest-network/blockledger/internal/models"
	"github.com/manifest-network/blockledger/internal/server"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
	// Kind is the rejection reason, such as "invalid_height", when the server gave one.
	Kind string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("server returned %d (%s): %s", e.StatusCode, e.Kind, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Rejected reports whether the server refused the request as invalid.
func (e *APIError) Rejected() bool {
	return e.StatusCode == http.StatusBadRequest
}

type Client struct {
	http *resty.Client
}

func New(cfg config.ClientConfig) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(cfg.URL).
			SetTimeout(cfg.Timeout).
			SetHeader("Accept", "application/json"),
	}
}

// SubmitBlock posts b to the server.
func (c *Client) SubmitBlock(ctx context.Context, b *models.Block) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(b).
		SetError(&server.ErrorBody{}).
		Post("/blocks")
	if err != nil {
		return fmt.Errorf("failed to submit block %d: %w", b.Height, err)
	}
	return checkResponse(resp)
}

// Balance returns the balance of address.
func (c *Client) Balance(ctx context.Context, address string) (int64, error) {
	result := map[string]int64{}
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("address", address).
		SetResult(&result).
		SetError(&server.ErrorBody{}).
		Get("/balance/{address}")
	if err != nil {
		return 0, fmt.Errorf("failed to get balance of %s: %w", address, err)
	}
	if err := checkResponse(resp); err != nil {
		return 0, err
	}

	balance, ok := result[address]
	if !ok {
		return 0, fmt.Errorf("balance response has no entry for %s", address)
	}
	return balance, nil
}

// Rollback asks the server to remove every block above height.
func (c *Client) Rollback(ctx context.Context, height uint64) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("height", strconv.FormatUint(height, 10)).
		SetError(&server.ErrorBody{}).
		Post("/rollback")
	if err != nil {
		return fmt.Errorf("failed to roll back to %d: %w", height, err)
	}
	return checkResponse(resp)
}

// Ready reports whether the server finished rebuilding its ledger.
func (c *Client) Ready(ctx context.Context) (bool, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetError(&server.ErrorBody{}).
		Get("/healthz")
	if err != nil {
		return false, fmt.Errorf("failed to check health: %w", err)
	}
	if resp.StatusCode() == http.StatusServiceUnavailable {
		return false, nil
	}
	if err := checkResponse(resp); err != nil {
		return false, err
	}
	return true, nil
}

// WaitReady polls Ready every interval until the server is ready or ctx ends.
func (c *Client) WaitReady(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for waited := false; ; waited = true {
		ready, err := c.Ready(ctx)
		if err != nil {
			return err
		}
		if ready {
			return nil
		}
		if !waited {
			slog.Info("Waiting for the server to rebuild its ledger")
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("server did not become ready: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func checkResponse(resp *resty.Response) error {
	if !resp.IsError() {
		return nil
	}
	apiErr := &APIError{StatusCode: resp.StatusCode(), Message: resp.Status()}
	if body, ok := resp.Error().(*server.ErrorBody); ok && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.Kind = body.Kind
	}
	return apiErr
}
