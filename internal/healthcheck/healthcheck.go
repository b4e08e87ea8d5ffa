// Package healthcheck answers "is the discovered endpoint actually serving".
package healthcheck

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/stedge/internal/discovery"
	"github.com/MrSnakeDoc/stedge/internal/logger"
)

// maxBody caps how much of the root response is read and parsed.
const maxBody = 64 << 10

type Checker struct {
	logger logger.Logger
}

func New(log logger.Logger) *Checker {
	return &Checker{
		logger: log.With(logger.String("component", "healthcheck")),
	}
}

// Check requests the endpoint root and reports true only for a 2xx JSON
// response received within timeout. Every failure is false.
func (c *Checker) Check(ctx context.Context, ep discovery.Endpoint, timeout time.Duration) bool {
	err := c.check(ctx, ep, timeout)
	if err != nil {
		c.logger.Warn("server health check failed",
			logger.String("url", ep.BaseURL()),
			logger.Error(err))
		return false
	}
	c.logger.Info("server is healthy", logger.String("url", ep.BaseURL()))
	return true
}

func (c *Checker) check(ctx context.Context, ep discovery.Endpoint, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.BaseURL()+"/", http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := newClient(timeout).Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&body); err != nil {
		return fmt.Errorf("invalid response body: %w", err)
	}
	return nil
}

func newClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   timeout,
				KeepAlive: 0,
			}).DialContext,
			ResponseHeaderTimeout: timeout,
			DisableKeepAlives:     true,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			// Don't follow redirects
			return http.ErrUseLastResponse
		},
	}
}
