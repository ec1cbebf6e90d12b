package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/notifyhub/service-notification-processor/pkg/logger"
	"github.com/notifyhub/service-notification-processor/pkg/metrics"
)

// WebhookEndpoint is the per-client payload shape `{url, enabled}`.
type WebhookEndpoint struct {
	URL     string `json:"url"`
	Enabled bool   `json:"enabled"`
}

// WebhookMap is the immutable snapshot `client_id -> WebhookEndpoint`
// The processor itself never reads this; it only keeps the
// cache running so the downstream webhook-delivery worker can.
type WebhookMap map[string]WebhookEndpoint

type webhookCatalogEntry struct {
	ClientID string `json:"clientId"`
	WebhookEndpoint
}

// NewWebhookCache builds the Webhook Cache: same contract and
// refresh policy as the Capability Cache, different payload shape.
func NewWebhookCache(urls []string, requestTimeout, refreshInterval time.Duration, redisClient redis.UniversalClient, mirrorTTL time.Duration, log *logger.Logger, m *metrics.Metrics) *SelfUpdatingCache[WebhookMap] {
	picker := newCatalogPicker(urls, log)
	client := newHTTPClient(requestTimeout)

	fetch := func(ctx context.Context) (WebhookMap, error) {
		var entries []webhookCatalogEntry
		err := fetchJSON(ctx, client, picker, func(resp *http.Response) error {
			return json.NewDecoder(resp.Body).Decode(&entries)
		})
		if err != nil {
			return nil, fmt.Errorf("webhook cache: %w", err)
		}

		snapshot := make(WebhookMap, len(entries))
		for _, e := range entries {
			snapshot[e.ClientID] = e.WebhookEndpoint
		}
		return snapshot, nil
	}

	var mirror Mirror[WebhookMap]
	if redisClient != nil {
		mirror = NewRedisMirror[WebhookMap](redisClient, "notifier:cache:webhook", log)
	}

	return New("webhook", fetch, refreshInterval, mirror, mirrorTTL, log, m)
}
