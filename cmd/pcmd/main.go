// Command pcmd is a long-running daemon that pumps frames between
// configured capture and playback streams, reloading its routes when the
// backing config file changes and reporting readiness to systemd.
package main

import (
	"errors"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	charmlog "github.com/charmbracelet/log"
	sddaemon "github.com/coreos/go-systemd/daemon"
	"github.com/spf13/pflag"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"

	"github.com/deepwave-audio/pcmcore/internal/clog"
	"github.com/deepwave-audio/pcmcore/pcm"
	"github.com/deepwave-audio/pcmcore/pcm/open"
)

// Log rotation policy for --log-file, matching the teacher's netsender.log
// defaults (cmd/speaker, cmd/rv, cmd/looper).
const (
	logMaxSizeMB  = 500
	logMaxBackups = 10
	logMaxAgeDays = 28
)

// route names one capture stream and one playback stream to pump frames
// between, by name as resolved through the shared open.Registry.
type route struct {
	Name string `yaml:"name"`
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

type routeFile struct {
	Routes []route `yaml:"routes"`
}

func loadRoutes(path string) ([]route, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rf routeFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, err
	}
	return rf.Routes, nil
}

// runner owns one route's live streams and the goroutine pumping frames
// between them, so the daemon can tear down and restart a route on
// reload without disturbing the others.
type runner struct {
	route  route
	log    clog.Adapter
	stopCh chan struct{}
	doneCh chan struct{}
}

func startRoute(reg *open.Registry, r route, log clog.Adapter) (*runner, error) {
	src, err := open.Open(reg, r.From, pcm.Capture, log)
	if err != nil {
		return nil, err
	}
	dst, err := open.Open(reg, r.To, pcm.Playback, log)
	if err != nil {
		src.Close()
		return nil, err
	}
	run := &runner{route: r, log: log, stopCh: make(chan struct{}), doneCh: make(chan struct{})}
	go run.pump(src, dst)
	return run, nil
}

func (run *runner) pump(src, dst *pcm.Stream) {
	defer close(run.doneCh)
	defer src.Close()
	defer dst.Close()

	frameBytes := src.BitsPerFrame() / 8
	chunkFrames := uint(4096)
	buf := make([]byte, chunkFrames*frameBytes)

	for {
		select {
		case <-run.stopCh:
			return
		default:
		}
		n, err := src.ReadInterleaved(buf, chunkFrames)
		if n > 0 {
			if _, werr := dst.WriteInterleaved(buf[:n*frameBytes], n); werr != nil {
				run.log.Error("route write failed", "route", run.route.Name, "error", werr.Error())
				return
			}
		}
		if err != nil {
			if errors.Is(err, pcm.ErrBrokenPipe) {
				run.log.Info("route source exhausted", "route", run.route.Name)
				return
			}
			run.log.Error("route read failed", "route", run.route.Name, "error", err.Error())
			return
		}
	}
}

func (run *runner) stop() {
	close(run.stopCh)
	<-run.doneCh
}

// manager supervises the set of live routes, rebuilding them wholesale on
// every config reload — routes are cheap to restart and this avoids
// reconciling a diff against the previous set.
type manager struct {
	mu      sync.Mutex
	reg     *open.Registry
	log     clog.Adapter
	runners []*runner
}

func (m *manager) reload(path string) {
	routes, err := loadRoutes(path)
	if err != nil {
		m.log.Error("failed to reload routes, keeping previous", "error", err.Error())
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, run := range m.runners {
		run.stop()
	}
	m.runners = m.runners[:0]
	for _, r := range routes {
		run, err := startRoute(m.reg, r, m.log)
		if err != nil {
			m.log.Error("failed to start route", "route", r.Name, "error", err.Error())
			continue
		}
		m.runners = append(m.runners, run)
		m.log.Info("route started", "route", r.Name, "from", r.From, "to", r.To)
	}
}

func (m *manager) stopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, run := range m.runners {
		run.stop()
	}
	m.runners = nil
}

func main() {
	configPath := pflag.StringP("config", "c", "", "path to the stream+route YAML config")
	logFilePath := pflag.String("log-file", "", "rotating log file path (in addition to stderr); unset disables file logging")
	pflag.Parse()

	w := io.Writer(os.Stderr)
	if *logFilePath != "" {
		fileLog := &lumberjack.Logger{
			Filename:   *logFilePath,
			MaxSize:    logMaxSizeMB,
			MaxBackups: logMaxBackups,
			MaxAge:     logMaxAgeDays,
		}
		w = io.MultiWriter(os.Stderr, fileLog)
	}
	log := clog.New(charmlog.New(w))
	if *configPath == "" {
		log.Fatal("no config given, use --config")
	}

	reg, err := open.Load(*configPath)
	if err != nil {
		log.Fatal("failed to load config", "error", err.Error())
	}

	m := &manager{reg: reg, log: log}
	m.reload(*configPath)

	if _, err := reg.Watch(*configPath, log, func() { m.reload(*configPath) }); err != nil {
		log.Error("config watch unavailable, routes will not hot-reload", "error", err.Error())
	}

	if sent, err := sddaemon.SdNotify(false, sddaemon.SdNotifyReady); err != nil {
		log.Warning("systemd readiness notification failed", "error", err.Error())
	} else if sent {
		log.Debug("notified systemd of readiness")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	sddaemon.SdNotify(false, sddaemon.SdNotifyStopping)
	m.stopAll()
}
