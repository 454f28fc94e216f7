package actuator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/rescuedyne/go-rover/internal/httpc"
	"github.com/rescuedyne/go-rover/internal/log"
)

// ErrUnreachable is returned when the controller could not be reached
// within the retry budget. The mission continues in degraded mode; the
// next state-machine cycle will generate a fresh command.
var ErrUnreachable = errors.New("actuator: controller unreachable")

// DefaultRetries bounds send attempts per command.
const DefaultRetries = 3

// Client sends movement commands to the actuator controller's HTTP API.
type Client struct {
	baseURL string
	retries int
	http    *http.Client
	logger  *slog.Logger

	// retryInterval seeds the exponential backoff between attempts.
	retryInterval time.Duration
}

// NewClient creates an actuator client. timeout bounds each individual
// attempt; the caller's context bounds the whole send including retries.
func NewClient(baseURL string, retries int, timeout time.Duration) *Client {
	if retries < 1 {
		retries = DefaultRetries
	}
	return &Client{
		baseURL:       baseURL,
		retries:       retries,
		http:          httpc.NewClient(timeout),
		logger:        log.Component("actuator"),
		retryInterval: 200 * time.Millisecond,
	}
}

// Send delivers one command. Idempotent per token: the same token is reused
// across retries, so a resend after a partial success applies the movement
// at most once on the controller side.
func (c *Client) Send(ctx context.Context, cmd Command) error {
	body, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("actuator: marshal command: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.retries-1)), ctx)

	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		if err := c.post(ctx, body); err != nil {
			c.logger.Warn("command send failed",
				"intent", cmd.Intent, "token", cmd.Token,
				"attempt", attempt, "error", err)
			return err
		}
		return nil
	}, policy)
	if err != nil {
		return fmt.Errorf("%w: %s after %d attempts: %v",
			ErrUnreachable, cmd.Intent, attempt, err)
	}

	c.logger.Info("command delivered",
		"intent", cmd.Intent, "token", cmd.Token, "attempts", attempt)
	return nil
}

func (c *Client) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/move", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("controller returned status %d", resp.StatusCode)
	}
	return nil
}
