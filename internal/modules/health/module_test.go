package health

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"delta_bot/internal/modules/health/service"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type alarmStub struct {
	active bool
	reason string
}

func (a alarmStub) Active() (bool, string) { return a.active, a.reason }

func TestMux(t *testing.T) {
	t.Parallel()

	state := service.NewState()
	fresh := false
	state.SetReadyCheck(func() bool { return fresh })
	state.SetPriceState(func() string { return "stale" })
	state.TouchTick(time.Unix(1714564800, 0))

	mux := NewMux(state, alarmStub{active: true, reason: "ip_not_whitelisted"})

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	assert.Equal(t, http.StatusOK, get("/livez").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz").Code)

	state.SetReady(true)
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz").Code)
	fresh = true
	assert.Equal(t, http.StatusOK, get("/readyz").Code)

	rec := get("/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["alarm"])
	assert.Equal(t, "ip_not_whitelisted", body["alarmReason"])
	assert.Equal(t, "stale", body["price"])
	assert.EqualValues(t, 1714564800, body["lastTickUnix"])
}
