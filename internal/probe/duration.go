// Package probe talks to the external media probe that measures the
// duration of uploaded voice clips. The collaborator is flaky, so calls
// run behind a circuit breaker with exponential retry; callers treat a
// failed probe as "duration unknown" rather than an upload error.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type Config struct {
	URL     string
	Timeout time.Duration
}

type Client struct {
	http *http.Client
	base string
	cb   *gobreaker.CircuitBreaker
	log  *zap.SugaredLogger
}

func NewClient(cfg Config, log *zap.SugaredLogger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	st := gobreaker.Settings{
		Name:    "media-probe",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Infow("circuit breaker state", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return &Client{
		http: &http.Client{Timeout: cfg.Timeout},
		base: cfg.URL,
		cb:   gobreaker.NewCircuitBreaker(st),
		log:  log,
	}
}

type probeResponse struct {
	DurationSec float64 `json:"duration_sec"`
}

// Duration asks the probe for the length of the clip at mediaURL.
// Returns nil when the probe is unreachable or the breaker is open.
func (c *Client) Duration(ctx context.Context, mediaURL string) *float64 {
	if c == nil || c.base == "" {
		return nil
	}
	res, err := c.cb.Execute(func() (interface{}, error) {
		return c.fetch(ctx, mediaURL)
	})
	if err != nil {
		c.log.Warnw("duration probe failed", "url", mediaURL, "err", err)
		return nil
	}
	d := res.(float64)
	return &d
}

func (c *Client) fetch(ctx context.Context, mediaURL string) (float64, error) {
	var out probeResponse
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			c.base+"/duration?url="+url.QueryEscape(mediaURL), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer func() {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("probe returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("probe returned %d", resp.StatusCode))
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 15 * time.Second
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return 0, err
	}
	return out.DurationSec, nil
}
