// Package daemon implements the lifecycle of a long-running fabric node.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"

	"golang.org/x/sync/errgroup"

	"firestige.xyz/fabric/internal/config"
	logpkg "firestige.xyz/fabric/internal/log"
	"firestige.xyz/fabric/internal/metrics"
	"firestige.xyz/fabric/internal/pcap"
	"firestige.xyz/fabric/internal/protocol"
	"firestige.xyz/fabric/internal/sniffer"
	"firestige.xyz/fabric/internal/tunnel"
)

// Version is reported on startup and by the version command.
const Version = "0.1.0"

// node is the part of tunnel.Hub and tunnel.Switch the daemon drives.
type node interface {
	Name() string
	Addr() netip.AddrPort
	Close() error
	Wait() error
}

// Daemon runs a tunnel hub or switch with its metrics server, optional
// capture file and table sweeper.
type Daemon struct {
	config     atomic.Pointer[config.Config]
	configPath string
	pidFile    string

	node          node
	capture       *pcap.Writer    // nil if capture disabled
	metricsServer *metrics.Server // nil if metrics disabled

	ctx          context.Context
	cancel       context.CancelFunc
	group        *errgroup.Group
	groupDone    chan struct{}
	groupErr     error
	shutdownChan chan struct{}
	sigChan      chan os.Signal
	stopOnce     sync.Once
}

// New loads the configuration at configPath, or the defaults if it is
// empty. pidFile may be empty.
func New(configPath, pidFile string) (*Daemon, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath == "" {
		cfg, err = config.Default()
	} else {
		cfg, err = config.Load(configPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return newDaemon(cfg, configPath, pidFile), nil
}

func newDaemon(cfg *config.Config, configPath, pidFile string) *Daemon {
	d := &Daemon{
		configPath:   configPath,
		pidFile:      pidFile,
		shutdownChan: make(chan struct{}, 1),
		groupDone:    make(chan struct{}),
	}
	d.config.Store(cfg)
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d
}

// Config returns the configuration. Changes made before Start take effect.
func (d *Daemon) Config() *config.Config {
	return d.config.Load()
}

// Start initializes and starts all daemon components. If it fails, the
// components already started are stopped.
func (d *Daemon) Start() (err error) {
	// 1. Initialize logging system
	cfg := d.Config()
	if err := initLogging(cfg.Log); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	slog.Info("starting fabric daemon",
		"version", Version,
		"config", d.configPath,
		"mode", cfg.Hub.Mode,
	)
	defer func() {
		if err != nil {
			d.Stop()
		}
	}()

	// 2. Write PID file
	if err := d.writePIDFile(); err != nil {
		return err
	}

	var gctx context.Context
	d.group, gctx = errgroup.WithContext(d.ctx)

	// 3. Bind metrics server
	if err := d.startMetrics(gctx); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 4. Open capture file
	if err := d.openCapture(); err != nil {
		return fmt.Errorf("failed to open capture file: %w", err)
	}

	// 5. Start hub or switch
	if err := d.startNode(gctx); err != nil {
		return fmt.Errorf("failed to start %s: %w", cfg.Hub.Mode, err)
	}

	go func() {
		d.groupErr = d.group.Wait()
		close(d.groupDone)
	}()

	slog.Info("daemon started successfully", "addr", d.node.Addr())
	return nil
}

func (d *Daemon) startMetrics(ctx context.Context) error {
	mc := d.Config().Metrics
	if !mc.Enabled {
		slog.Info("metrics server disabled")
		return nil
	}
	srv, err := metrics.Listen(mc.Listen, mc.Path)
	if err != nil {
		return err
	}
	d.metricsServer = srv
	d.group.Go(func() error { return srv.Run(ctx) })
	return nil
}

func (d *Daemon) openCapture() error {
	cc := d.Config().Capture
	if cc.File == "" {
		return nil
	}
	hdr := pcap.NewHeader(cc.LinkType)
	hdr.SnapLen = cc.SnapLen
	w, err := pcap.CreateFile(cc.File, hdr)
	if err != nil {
		return err
	}
	d.capture = w
	slog.Info("capturing hub traffic", "file", cc.File, "skip_ssh", cc.SkipSSH)
	return nil
}

// tap returns the hook recording frames entering the hub. Only the hub
// receive loop calls it.
func (d *Daemon) tap(skipSSH bool) func(netip.AddrPort, *protocol.EthPacket) {
	w := d.capture
	return func(src netip.AddrPort, frame *protocol.EthPacket) {
		if skipSSH && sniffer.MentionsSSH(frame) {
			return
		}
		if err := w.Write(frame); err != nil {
			slog.Warn("failed to write capture record", "endpoint", src, "error", err)
		}
	}
}

func (d *Daemon) startNode(ctx context.Context) error {
	cfg := d.Config()
	hc := cfg.Hub
	tc := tunnel.Config{
		Name:         hc.Name,
		Listen:       hc.Listen,
		MaxEndpoints: hc.MaxEndpoints,
	}
	if d.capture != nil {
		tc.Tap = d.tap(cfg.Capture.SkipSSH)
	}

	switch hc.Mode {
	case config.ModeSwitch:
		sw, err := tunnel.NewSwitch(ctx, tunnel.SwitchConfig{Config: tc, Expiration: hc.Expiration})
		if err != nil {
			return err
		}
		d.node = sw
		if hc.SweepInterval > 0 {
			d.group.Go(func() error { return sw.Table().RunSweeper(ctx, hc.SweepInterval) })
		}
	default:
		h, err := tunnel.NewHub(ctx, tc)
		if err != nil {
			return err
		}
		d.node = h
	}
	d.group.Go(d.node.Wait)
	return nil
}

// Addr returns the UDP address the hub is bound to.
func (d *Daemon) Addr() netip.AddrPort {
	if d.node == nil {
		return netip.AddrPort{}
	}
	return d.node.Addr()
}

// Stop performs graceful shutdown of all daemon components. It is safe to
// call more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(d.stop)
}

func (d *Daemon) stop() {
	slog.Info("initiating graceful shutdown")

	// 1. Cancel context; the hub, sweeper and metrics server follow it
	d.cancel()
	if d.node != nil {
		if err := d.node.Close(); err != nil {
			slog.Error("error stopping hub", "error", err)
		}
	}
	if d.group != nil {
		if err := d.group.Wait(); err != nil {
			slog.Error("component failed", "error", err)
		}
	}

	// 2. Close capture once the receive loop is gone
	if d.capture != nil {
		if err := d.capture.Close(); err != nil {
			slog.Error("error closing capture file", "error", err)
		}
	}

	// 3. Unregister signal handler
	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	// 4. Remove PID file
	if err := d.removePIDFile(); err != nil {
		slog.Error("error removing PID file", "error", err)
	}

	slog.Info("daemon stopped gracefully")

	// 5. Flush logs
	logpkg.Flush()
}

// Run runs the daemon main loop, blocking until shutdown is triggered by
// SIGTERM/SIGINT, TriggerShutdown or a failing component. SIGHUP reloads
// the configuration.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	slog.Info("daemon running, waiting for signals")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", sig)
				d.Stop()
				return nil
			case syscall.SIGHUP:
				slog.Info("received reload signal")
				if err := d.Reload(); err != nil {
					slog.Error("failed to reload config", "error", err)
				}
			}

		case <-d.shutdownChan:
			slog.Info("shutdown triggered")
			d.Stop()
			return nil

		case <-d.groupDone:
			err := d.groupErr
			slog.Error("component stopped", "error", err)
			d.Stop()
			return err
		}
	}
}

// TriggerShutdown asks Run to stop.
func (d *Daemon) TriggerShutdown() {
	select {
	case d.shutdownChan <- struct{}{}:
	default:
	}
}

// Reload reloads the configuration. Only the log settings are applied
// live; hub, capture and metrics changes need a restart.
func (d *Daemon) Reload() error {
	if d.configPath == "" {
		return nil
	}
	slog.Info("reloading configuration", "path", d.configPath)

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	old := d.Config()
	if err := initLogging(newConfig.Log); err != nil {
		return fmt.Errorf("failed to reinitialize logging: %w", err)
	}
	d.config.Store(&config.Config{
		Log:     newConfig.Log,
		Metrics: old.Metrics,
		Hub:     old.Hub,
		Capture: old.Capture,
	})

	var requiresRestart []string
	if newConfig.Hub != old.Hub {
		requiresRestart = append(requiresRestart, "hub")
	}
	if newConfig.Capture != old.Capture {
		requiresRestart = append(requiresRestart, "capture")
	}
	if newConfig.Metrics != old.Metrics {
		requiresRestart = append(requiresRestart, "metrics")
	}
	slog.Info("configuration reloaded",
		"level", newConfig.Log.Level,
		"requires_restart", requiresRestart,
	)
	return nil
}

// initLogging initializes the logging system from lc.
func initLogging(lc config.LogConfig) error {
	if err := logpkg.Init(lc); err != nil {
		return err
	}
	slog.Debug("logging initialized",
		"level", lc.Level,
		"format", lc.Format,
	)
	return nil
}

// writePIDFile writes the current process ID to the PID file.
func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}
	pid := os.Getpid()
	data := []byte(strconv.Itoa(pid) + "\n")
	if err := os.WriteFile(d.pidFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.pidFile, err)
	}
	slog.Debug("PID file written", "path", d.pidFile, "pid", pid)
	return nil
}

// removePIDFile removes the PID file.
func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}
	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.pidFile, err)
	}
	return nil
}
