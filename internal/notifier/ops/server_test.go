package ops_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/service-notification-processor/internal/notifier/cache"
	"github.com/notifyhub/service-notification-processor/internal/notifier/ops"
	"github.com/notifyhub/service-notification-processor/internal/notifier/processor"
)

type fakeProcessStatus struct{ state processor.State }

func (f fakeProcessStatus) State() processor.State { return f.state }

type fakeCapabilities struct {
	data       cache.CapabilityMap
	refreshErr error
	refreshed  int
}

func (f *fakeCapabilities) ServiceData() cache.CapabilityMap { return f.data }
func (f *fakeCapabilities) Refresh(ctx context.Context) error {
	f.refreshed++
	return f.refreshErr
}

type fakeWebhooks struct {
	data cache.WebhookMap
}

func (f *fakeWebhooks) ServiceData() cache.WebhookMap       { return f.data }
func (f *fakeWebhooks) Refresh(ctx context.Context) error { return nil }

func TestHealthzAlwaysOK(t *testing.T) {
	s := ops.NewServer(ops.Config{})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyz_NotRunningReturns503(t *testing.T) {
	s := ops.NewServer(ops.Config{Processor: fakeProcessStatus{state: processor.StateIdle}})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReadyz_RunningReturns200(t *testing.T) {
	s := ops.NewServer(ops.Config{Processor: fakeProcessStatus{state: processor.StateRunning}})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDebugCapabilities_ReturnsSnapshot(t *testing.T) {
	caps := &fakeCapabilities{data: cache.CapabilityMap{"C1": {"capA"}}}
	s := ops.NewServer(ops.Config{Capabilities: caps})

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/capabilities", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "capA")
}

func TestDebugRefresh_InvalidCacheNameRejected(t *testing.T) {
	caps := &fakeCapabilities{}
	s := ops.NewServer(ops.Config{Capabilities: caps})

	body := strings.NewReader(`{"cache":"bogus"}`)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/debug/refresh", body))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, caps.refreshed)
}

func TestDebugRefresh_ValidCacheTriggersRefresh(t *testing.T) {
	caps := &fakeCapabilities{}
	s := ops.NewServer(ops.Config{Capabilities: caps})

	body := strings.NewReader(`{"cache":"capability"}`)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/debug/refresh", body))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, caps.refreshed)
}

func TestDebugEndpoints_DeniedByPolicy(t *testing.T) {
	caps := &fakeCapabilities{data: cache.CapabilityMap{"C1": {"capA"}}}
	authz, err := ops.NewAuthorizer(context.Background(), "", nil)
	require.NoError(t, err)

	s := ops.NewServer(ops.Config{Capabilities: caps, Authorizer: authz})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/debug/capabilities", nil)
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/debug/capabilities", nil)
	req.Header.Set("X-Admin-Role", "admin")
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
