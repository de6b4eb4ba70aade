package daemon

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/fabric/internal/metrics"
	"firestige.xyz/fabric/internal/pcap"
	"firestige.xyz/fabric/internal/protocol/prototest"
	"firestige.xyz/fabric/internal/tunnel"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func dial(t *testing.T, hub netip.AddrPort) *net.UDPConn {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(hub))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestDaemonStartStopIntegration(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yml")
	capturePath := filepath.Join(tmpDir, "hub.pcap")
	pidFile := filepath.Join(tmpDir, "fabric.pid")
	writeConfig(t, configPath, `
fabric:
  log:
    level: debug
    format: text
  metrics:
    listen: 127.0.0.1:0
  hub:
    listen: 127.0.0.1:0
    mode: switch
    sweep_interval: 50ms
  capture:
    file: `+capturePath+`
    skip_ssh: true
`)

	d, err := New(configPath, pidFile)
	require.NoError(t, err)
	require.NoError(t, d.Start())

	_, err = os.Stat(pidFile)
	require.NoError(t, err, "PID file was not created")

	sw, ok := d.node.(*tunnel.Switch)
	require.True(t, ok, "switch mode must run a tunnel switch")

	runDone := make(chan error, 1)
	go func() { runDone <- d.Run() }()

	a, b := dial(t, d.Addr()), dial(t, d.Addr())
	_, err = b.Write(tunnel.Ping.Bytes())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(sw.Endpoints()) == 1 }, time.Second, 5*time.Millisecond)

	client := netip.MustParseAddrPort("10.0.0.1:40000")
	ssh := prototest.TCP(t, client, netip.MustParseAddrPort("10.0.0.2:22"), nil)
	dns := prototest.UDP(t, client, netip.MustParseAddrPort("10.0.0.53:53"), []byte("query"))
	for _, f := range [][]byte{ssh.Bytes(), dns.Bytes()} {
		_, err = a.Write(f)
		require.NoError(t, err)
	}
	buf := make([]byte, 2048)
	for range 2 {
		require.NoError(t, b.SetReadDeadline(time.Now().Add(time.Second)))
		_, err := b.Read(buf)
		require.NoError(t, err, "frames to unknown destinations are flooded")
	}

	resp, err := http.Get("http://" + d.metricsServer.Addr().String() + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "fabric_tunnel_endpoints")

	d.TriggerShutdown()
	select {
	case err := <-runDone:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop within timeout")
	}

	_, err = os.Stat(pidFile)
	assert.True(t, os.IsNotExist(err), "PID file was not removed after shutdown")

	r, err := pcap.OpenFile(capturePath)
	require.NoError(t, err)
	defer r.Close()
	var records []*pcap.Record
	for rec, err := range r.All() {
		require.NoError(t, err)
		records = append(records, rec)
	}
	require.Len(t, records, 1, "ssh traffic is skipped")
	assert.Equal(t, dns.Bytes(), records[0].Data)
}

func TestDaemonHubModeWithoutMetrics(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yml")
	writeConfig(t, configPath, `
fabric:
  metrics:
    enabled: false
  hub:
    listen: 127.0.0.1:0
`)
	d, err := New(configPath, "")
	require.NoError(t, err)
	require.NoError(t, d.Start())

	_, ok := d.node.(*tunnel.Hub)
	assert.True(t, ok)
	assert.Nil(t, d.metricsServer)
	assert.True(t, d.Addr().IsValid())

	d.Stop()
	d.Stop()
}

func TestDaemonStartFailsOnBusyPort(t *testing.T) {
	busy, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(netip.MustParseAddrPort("127.0.0.1:0")))
	require.NoError(t, err)
	defer busy.Close()

	configPath := filepath.Join(t.TempDir(), "config.yml")
	writeConfig(t, configPath, `
fabric:
  metrics:
    enabled: false
  hub:
    listen: `+busy.LocalAddr().String()+`
`)
	d, err := New(configPath, "")
	require.NoError(t, err)
	assert.Error(t, d.Start())
}

func TestDaemonReloadLogLevel(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yml")
	writeConfig(t, configPath, `
fabric:
  log:
    level: info
    format: text
  metrics:
    enabled: false
  hub:
    listen: 127.0.0.1:0
`)
	d, err := New(configPath, "")
	require.NoError(t, err)
	require.NoError(t, d.Start())
	defer d.Stop()

	hub := d.Config().Hub
	writeConfig(t, configPath, `
fabric:
  log:
    level: debug
    format: text
  metrics:
    enabled: false
  hub:
    listen: 127.0.0.1:0
    max_endpoints: 4
`)
	require.NoError(t, d.Reload())
	assert.Equal(t, "debug", d.Config().Log.Level)
	assert.Equal(t, hub, d.Config().Hub, "hub settings need a restart")

	writeConfig(t, configPath, "fabric:\n  log:\n    level: loud\n")
	assert.Error(t, d.Reload())
	assert.Equal(t, "debug", d.Config().Log.Level)
}

func TestDaemonReloadWhileCapturing(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yml")
	capturePath := filepath.Join(tmpDir, "reload.pcap")
	conf := func(skipSSH bool) string {
		return fmt.Sprintf(`
fabric:
  log:
    level: warn
  metrics:
    enabled: false
  hub:
    listen: 127.0.0.1:0
  capture:
    file: %s
    skip_ssh: %t
`, capturePath, skipSSH)
	}
	writeConfig(t, configPath, conf(true))
	d, err := New(configPath, "")
	require.NoError(t, err)
	require.NoError(t, d.Start())

	// Capture settings only change on restart.
	writeConfig(t, configPath, conf(false))

	client := netip.MustParseAddrPort("10.0.0.1:40000")
	ssh := prototest.TCP(t, client, netip.MustParseAddrPort("10.0.0.2:22"), nil)
	dns := prototest.UDP(t, client, netip.MustParseAddrPort("10.0.0.53:53"), []byte("query"))
	a := dial(t, d.Addr())

	stop := make(chan struct{})
	sending := make(chan struct{})
	go func() {
		defer close(sending)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, err := a.Write(ssh.Bytes()); err != nil {
				return
			}
			if _, err := a.Write(dns.Bytes()); err != nil {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
	for range 50 {
		require.NoError(t, d.Reload())
	}
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.PcapRecordsTotal.WithLabelValues(capturePath)) > 0
	}, 2*time.Second, 5*time.Millisecond)
	close(stop)
	<-sending
	d.Stop()
	assert.True(t, d.Config().Capture.SkipSSH)

	r, err := pcap.OpenFile(capturePath)
	require.NoError(t, err)
	defer r.Close()
	n := 0
	for rec, err := range r.All() {
		require.NoError(t, err)
		assert.Equal(t, dns.Bytes(), rec.Data)
		n++
	}
	assert.Positive(t, n)
}

func TestNewMissingConfig(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "absent.yml"), "")
	assert.Error(t, err)
}
