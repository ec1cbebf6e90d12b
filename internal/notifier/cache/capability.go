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

// CapabilityMap is the immutable snapshot `client_id -> ordered set of
// capability strings`.
type CapabilityMap map[string][]string

// Capabilities returns the ordered capability list for cid, or nil if cid
// is absent from the snapshot.
func (m CapabilityMap) Capabilities(cid string) []string {
	return m[cid]
}

type capabilityCatalogEntry struct {
	ClientID     string   `json:"clientId"`
	Capabilities []string `json:"capabilities"`
}

// NewCapabilityCache builds the Capability Cache: periodically
// fetches the full client-capability catalog and installs it atomically.
func NewCapabilityCache(urls []string, requestTimeout, refreshInterval time.Duration, redisClient redis.UniversalClient, mirrorTTL time.Duration, log *logger.Logger, m *metrics.Metrics) *SelfUpdatingCache[CapabilityMap] {
	picker := newCatalogPicker(urls, log)
	client := newHTTPClient(requestTimeout)

	fetch := func(ctx context.Context) (CapabilityMap, error) {
		var entries []capabilityCatalogEntry
		err := fetchJSON(ctx, client, picker, func(resp *http.Response) error {
			return json.NewDecoder(resp.Body).Decode(&entries)
		})
		if err != nil {
			return nil, fmt.Errorf("capability cache: %w", err)
		}

		snapshot := make(CapabilityMap, len(entries))
		for _, e := range entries {
			snapshot[e.ClientID] = e.Capabilities
		}
		return snapshot, nil
	}

	var mirror Mirror[CapabilityMap]
	if redisClient != nil {
		mirror = NewRedisMirror[CapabilityMap](redisClient, "notifier:cache:capability", log)
	}

	return New("capability", fetch, refreshInterval, mirror, mirrorTTL, log, m)
}
