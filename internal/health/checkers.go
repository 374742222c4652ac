package health

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Pinger is anything with a context-aware liveness probe, such as the
// PostgreSQL store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Database returns a checker that pings the persistence layer.
func Database(p Pinger) Checker {
	return Checker{
		Name: "database",
		Check: func(ctx context.Context) error {
			return p.Ping(ctx)
		},
	}
}

// Counter is anything that can report a queue depth.
type Counter interface {
	Len(ctx context.Context) (int, error)
}

// Queue returns a checker that verifies the offline queue is reachable.
// A deep queue is still healthy; only an unreadable one fails.
func Queue(c Counter) Checker {
	return Checker{
		Name: "queue",
		Check: func(ctx context.Context) error {
			_, err := c.Len(ctx)
			return err
		},
	}
}

// AnalysisService returns a checker that probes the analysis service's root
// endpoint. Any HTTP response counts as reachable; the readiness of the
// service's models is its own concern. The check is optional: with the
// service down the server still accepts attempts and settles them through
// the offline queue.
func AnalysisService(baseURL string, client *http.Client) Checker {
	if client == nil {
		client = &http.Client{Timeout: 3 * time.Second}
	}
	return Checker{
		Name:     "analysis",
		Optional: true,
		Check: func(ctx context.Context) error {
			if baseURL == "" {
				return nil // queue-only deployment
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/", nil)
			if err != nil {
				return fmt.Errorf("build request: %w", err)
			}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("reach %s: %w", baseURL, err)
			}
			resp.Body.Close()
			return nil
		},
	}
}
