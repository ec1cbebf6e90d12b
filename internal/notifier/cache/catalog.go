package cache

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/service-notification-processor/pkg/logger"
)

// endpoint tracks one catalog URL's health for the round-robin picker.
type endpoint struct {
	url          string
	healthy      bool
	failureCount int
}

// catalogPicker round-robins across configured catalog URLs, skipping
// endpoints that have failed maxFailures consecutive requests, until they
// succeed again. Adapted from the load balancer's backend rotation.
type catalogPicker struct {
	mu        sync.Mutex
	endpoints []*endpoint
	current   uint64

	maxFailures int
	log         *logger.Logger
}

func newCatalogPicker(urls []string, log *logger.Logger) *catalogPicker {
	endpoints := make([]*endpoint, len(urls))
	for i, u := range urls {
		endpoints[i] = &endpoint{url: u, healthy: true}
	}
	return &catalogPicker{endpoints: endpoints, maxFailures: 3, log: log}
}

func (p *catalogPicker) next() *endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.endpoints) == 0 {
		return nil
	}

	idx := atomic.AddUint64(&p.current, 1) % uint64(len(p.endpoints))
	if p.endpoints[idx].healthy {
		return p.endpoints[idx]
	}
	for i := 0; i < len(p.endpoints); i++ {
		idx = (idx + 1) % uint64(len(p.endpoints))
		if p.endpoints[idx].healthy {
			return p.endpoints[idx]
		}
	}
	// every endpoint unhealthy: try the original pick anyway rather than
	// fail outright, since "unhealthy" here is just a soft skip hint.
	return p.endpoints[idx]
}

func (p *catalogPicker) reportResult(ep *endpoint, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		ep.failureCount++
		if ep.failureCount >= p.maxFailures && ep.healthy {
			ep.healthy = false
			p.log.Warn("catalog endpoint marked unhealthy", zap.String("url", ep.url))
		}
		return
	}
	if !ep.healthy {
		p.log.Info("catalog endpoint recovered", zap.String("url", ep.url))
	}
	ep.healthy = true
	ep.failureCount = 0
}

// fetchJSON GETs the next healthy catalog endpoint and decodes the body
// via the supplied decode function. When more than one endpoint is
// configured it retries once against the picker's next endpoint on
// failure before giving up; with a single endpoint it makes one attempt.
func fetchJSON(ctx context.Context, client *http.Client, picker *catalogPicker, decode func(resp *http.Response) error) error {
	var lastErr error
	attempts := len(picker.endpoints)
	if attempts == 0 {
		return fmt.Errorf("catalog: no endpoints configured")
	}
	if attempts > 2 {
		attempts = 2 // one try, one fallback retry against a different endpoint
	}

	for i := 0; i < attempts; i++ {
		ep := picker.next()
		if ep == nil {
			return fmt.Errorf("catalog: no endpoints configured")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.url, nil)
		if err != nil {
			picker.reportResult(ep, err)
			lastErr = err
			continue
		}

		resp, err := client.Do(req)
		if err != nil {
			picker.reportResult(ep, err)
			lastErr = err
			continue
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			err := fmt.Errorf("catalog: %s returned status %d", ep.url, resp.StatusCode)
			picker.reportResult(ep, err)
			lastErr = err
			continue
		}

		err = decode(resp)
		resp.Body.Close()
		picker.reportResult(ep, err)
		if err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("catalog: all endpoints failed: %w", lastErr)
}

// newHTTPClient builds the client used for catalog refresh requests.
func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}
