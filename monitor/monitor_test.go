package monitor

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergev/stim/logging"
	"github.com/sergev/stim/session"
)

type fixedStatus session.Status

func (f fixedStatus) Status() session.Status { return session.Status(f) }

func TestStatusEndpoint(t *testing.T) {
	src := fixedStatus{
		State:       session.SessionActive,
		Device:      "Connected",
		Session:     "Started",
		Stimulation: "Off",
		Overall:     session.StatusWaveformSent,
		Recorded:    3,
		Planned:     27,
		Enabled:     []session.Command{session.StartStimulation, session.EndSession},
	}
	srv := httptest.NewServer(NewHandler(src, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "SessionActive", got["state"])
	assert.Equal(t, "Waveform sent", got["overall"])
	assert.Equal(t, float64(27), got["planned"])
	assert.Equal(t, []any{"StartStimulation", "EndSession"}, got["enabled"])
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "stim_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Add(2)

	srv := httptest.NewServer(NewHandler(fixedStatus{}, reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "stim_test_total 2")
}

func TestMetricsDisabled(t *testing.T) {
	srv := httptest.NewServer(NewHandler(fixedStatus{}, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServeStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ServeListener(ctx, ln, NewHandler(fixedStatus{Overall: "ok"}, nil), logging.NewNop())
	}()

	url := "http://" + ln.Addr().String() + "/healthz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusNoContent
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
