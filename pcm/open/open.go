// Package open resolves a named stream configuration into a live
// *pcm.Stream: a flat, YAML-loaded config tree keyed by stream name,
// falling back to literal backend-prefixed name patterns when no config
// entry exists, the way ALSA resolves a PCM name against /etc/asound.conf
// before trying the name itself as a plugin spec.
package open

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/ausocean/utils/logging"

	"github.com/deepwave-audio/pcmcore/pcm"
	"github.com/deepwave-audio/pcmcore/pcm/backend/file"
	"github.com/deepwave-audio/pcmcore/pcm/backend/hw"
	"github.com/deepwave-audio/pcmcore/pcm/backend/null"
	"github.com/deepwave-audio/pcmcore/pcm/backend/plug"
	"github.com/deepwave-audio/pcmcore/pcm/backend/shm"
)

// Config describes one named stream's backend and negotiation
// parameters, the PCM-specific analogue of ausocean-av's flat
// revid/config.Config: a single struct of optional fields, defaulted
// and validated field-by-field rather than nested per backend kind.
type Config struct {
	Backend string `yaml:"backend"` // "hw", "plug", "shm", "file", or "null".

	Device string `yaml:"device,omitempty"` // hw: card/device title. shm: socket path. file: file path.

	Channels uint `yaml:"channels,omitempty"`
	Rate     uint `yaml:"rate,omitempty"`

	FragmentSize uint `yaml:"fragment_size,omitempty"`
	Fragments    uint `yaml:"fragments,omitempty"`

	// plug-only: the application-facing format, when it differs from the
	// wrapped inner stream.
	Inner        string  `yaml:"inner,omitempty"`
	AppChannels  uint    `yaml:"app_channels,omitempty"`
	AppRate      uint    `yaml:"app_rate,omitempty"`
	AmpFactor    float64 `yaml:"amp_factor,omitempty"`
	FadeInFrames uint    `yaml:"fade_in_frames,omitempty"`

	// shm-only: whether this end listens or dials the socket.
	Listen bool `yaml:"listen,omitempty"`
}

// Validate fills in defaults and rejects configs missing a backend or a
// device/path a backend requires, the same two-pass shape as
// ausocean-av/revid/config.Config.Validate driven by its Variables table
// — here inlined per-field since this Config is far smaller.
func (c *Config) Validate() error {
	if c.Backend == "" {
		return fmt.Errorf("open: config missing backend")
	}
	if c.Channels == 0 {
		c.Channels = 1
	}
	if c.Rate == 0 {
		c.Rate = 48000
	}
	if c.FragmentSize == 0 {
		c.FragmentSize = 1024
	}
	if c.Fragments == 0 {
		c.Fragments = 4
	}
	switch c.Backend {
	case "shm":
		if c.Device == "" {
			return fmt.Errorf("open: shm backend requires device (socket path)")
		}
	case "file":
		if c.Device == "" {
			return fmt.Errorf("open: file backend requires device (file path)")
		}
	case "plug":
		if c.Inner == "" {
			return fmt.Errorf("open: plug backend requires inner stream name")
		}
	}
	return nil
}

// Registry is a name -> Config tree loaded from YAML, guarded so it can
// be swapped out wholesale by a hot-reload watch.
type Registry struct {
	mu      sync.RWMutex
	streams map[string]Config
}

// Load reads a YAML document of the form:
//
//	pcm:
//	  mic0:
//	    backend: hw
//	    device: USB Audio
//	    channels: 1
//	    rate: 48000
//
// into a Registry, validating every entry.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open: read %s: %w", path, err)
	}
	var doc struct {
		PCM map[string]Config `yaml:"pcm"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("open: parse %s: %w", path, err)
	}
	for name, cfg := range doc.PCM {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("open: %s: %w", name, err)
		}
		doc.PCM[name] = cfg
	}
	return &Registry{streams: doc.PCM}, nil
}

// Get returns the named entry, if any.
func (r *Registry) Get(name string) (Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.streams[name]
	return cfg, ok
}

// replace swaps the registry's contents, used by Watch on reload.
func (r *Registry) replace(streams map[string]Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams = streams
}

// Watch reloads path on every write event fsnotify reports, calling
// onReload after each successful reload (and logging, not propagating,
// a reload that fails to parse — a bad config edit mid-flight shouldn't
// tear down the whole process, matching how revid treats config errors
// as logged-and-defaulted rather than fatal).
func (r *Registry) Watch(path string, log logging.Logger, onReload func()) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("open: new watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("open: watch %s: %w", path, err)
	}
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				reloaded, err := Load(path)
				if err != nil {
					log.Error("open: config reload failed, keeping previous", "error", err.Error())
					continue
				}
				r.replace(reloaded.streams)
				if onReload != nil {
					onReload()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Error("open: watcher error", "error", err.Error())
			}
		}
	}()
	return w, nil
}

// Open resolves name against the registry first (as "pcm.<name>"), then
// falls back to parsing name itself as a "backend:device" literal (e.g.
// "hw:USB Audio", "plug:mic0", "null"), the same two-step resolution
// order snd_pcm_open uses against /etc/asound.conf before falling back
// to treating the name as a raw plugin spec.
func Open(reg *Registry, name string, direction pcm.Direction, log logging.Logger) (*pcm.Stream, error) {
	cfg, err := resolve(reg, name)
	if err != nil {
		return nil, err
	}
	return openConfig(reg, cfg, direction, log)
}

// OpenMatching resolves name exactly as Open does, but overrides the
// resolved config's channel count and rate with hw's before negotiating,
// so the returned stream matches a format fixed elsewhere (typically a
// source stream's negotiated format, the way a playback tool must match
// whatever format the file it's reading already settled on instead of
// negotiating twice).
func OpenMatching(reg *Registry, name string, direction pcm.Direction, hw pcm.HWParams, log logging.Logger) (*pcm.Stream, error) {
	cfg, err := resolve(reg, name)
	if err != nil {
		return nil, err
	}
	if hw.Channels > 0 {
		cfg.Channels = hw.Channels
	}
	if hw.Rate > 0 {
		cfg.Rate = hw.Rate
	}
	return openConfig(reg, cfg, direction, log)
}

func resolve(reg *Registry, name string) (Config, error) {
	if reg != nil {
		if found, ok := reg.Get(name); ok {
			return found, nil
		}
	}
	return parseLiteral(name)
}

// parseLiteral interprets name directly as "backend" or "backend:device",
// e.g. "hw:USB Audio", "shm:/tmp/mic.sock", "null". For "plug:<name>",
// the part after the colon names the inner stream.
func parseLiteral(name string) (Config, error) {
	backend, device, _ := strings.Cut(name, ":")
	switch backend {
	case "hw", "shm", "file", "null":
		return Config{Backend: backend, Device: device}, nil
	case "plug":
		return Config{Backend: backend, Inner: device}, nil
	default:
		return Config{}, fmt.Errorf("open: %q is neither a configured stream nor a recognized backend literal", name)
	}
}

// startOnData applies the software parameters every stream this package
// opens shares (start transferring on the first chunk of data rather
// than requiring the caller to call Start explicitly, the mode simple
// record/playback utilities like aplay/arecord default to) and prepares
// the stream so the transfer engine's implicit start can fire.
func startOnData(s *pcm.Stream) error {
	if err := s.SWParams(&pcm.SoftwareParameters{StartMode: pcm.StartData, AvailMin: 1}); err != nil {
		return err
	}
	return s.Prepare()
}

func openConfig(reg *Registry, cfg Config, direction pcm.Direction, log logging.Logger) (*pcm.Stream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	hwParams := pcm.HWParams{
		Access:       pcm.AccessRWInterleaved,
		Format:       pcm.S16LE,
		Channels:     cfg.Channels,
		Rate:         cfg.Rate,
		FragmentSize: cfg.FragmentSize,
		Fragments:    cfg.Fragments,
	}

	switch cfg.Backend {
	case "hw":
		s, err := hw.Open(cfg.Device, direction, log)
		if err != nil {
			return nil, err
		}
		if err := s.HWParams(&hwParams); err != nil {
			return nil, fmt.Errorf("open: negotiate hw stream: %w", err)
		}
		if err := startOnData(s); err != nil {
			return nil, fmt.Errorf("open: software params for hw stream: %w", err)
		}
		return s, nil

	case "null":
		s, err := null.Open(cfg.Device, direction, log)
		if err != nil {
			return nil, err
		}
		if err := s.HWParams(&hwParams); err != nil {
			return nil, fmt.Errorf("open: negotiate null stream: %w", err)
		}
		if err := startOnData(s); err != nil {
			return nil, fmt.Errorf("open: software params for null stream: %w", err)
		}
		return s, nil

	case "shm":
		var s *pcm.Stream
		var err error
		if cfg.Listen {
			s, err = shm.Listen(cfg.Device, direction, log)
		} else {
			s, err = shm.Dial(cfg.Device, direction, log)
		}
		if err != nil {
			return nil, err
		}
		if err := s.HWParams(&hwParams); err != nil {
			return nil, fmt.Errorf("open: negotiate shm stream: %w", err)
		}
		if err := startOnData(s); err != nil {
			return nil, fmt.Errorf("open: software params for shm stream: %w", err)
		}
		return s, nil

	case "file":
		if direction == pcm.Capture {
			return file.OpenCapture(cfg.Device, log)
		}
		return file.OpenPlayback(cfg.Device, file.FormatFromPath(cfg.Device), hwParams, log)

	case "plug":
		inner, err := Open(reg, cfg.Inner, direction, log)
		if err != nil {
			return nil, fmt.Errorf("open: plug: open inner %q: %w", cfg.Inner, err)
		}
		opts := plug.Options{
			NativeChannels: cfg.Channels,
			NativeRate:     cfg.Rate,
			AppChannels:    cfg.AppChannels,
			AppRate:        cfg.AppRate,
			AmpFactor:      cfg.AmpFactor,
			FadeInFrames:   cfg.FadeInFrames,
		}
		s, err := plug.Wrap(inner, opts, log)
		if err != nil {
			return nil, err
		}
		if err := s.HWParams(&pcm.HWParams{}); err != nil {
			return nil, fmt.Errorf("open: setup plug stream: %w", err)
		}
		if err := startOnData(s); err != nil {
			return nil, fmt.Errorf("open: software params for plug stream: %w", err)
		}
		return s, nil

	default:
		return nil, fmt.Errorf("open: unknown backend %q", cfg.Backend)
	}
}

