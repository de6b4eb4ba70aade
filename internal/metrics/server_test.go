package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerExposesFabricMetrics(t *testing.T) {
	ForwardedPacketsTotal.WithLabelValues("test-node", ModeFlood).Inc()

	srv, err := Listen("127.0.0.1:0", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	url := "http://" + srv.Addr().String() + "/metrics"
	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		body = string(b)
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	assert.True(t, strings.Contains(body, "fabric_forwarded_packets_total"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestListenBusyPort(t *testing.T) {
	first, err := Listen("127.0.0.1:0", "/m")
	require.NoError(t, err)
	defer first.ln.Close()

	_, err = Listen(first.Addr().String(), "/m")
	assert.Error(t, err)
}

func TestCountersAreLabelled(t *testing.T) {
	TunnelEvictionsTotal.WithLabelValues("hub-a").Add(2)
	assert.Equal(t, 2.0, testutil.ToFloat64(TunnelEvictionsTotal.WithLabelValues("hub-a")))
}
