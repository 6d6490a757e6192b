// Command pcmplay plays a file to a configured playback stream.
package main

import (
	"errors"
	"os"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/deepwave-audio/pcmcore/internal/clog"
	"github.com/deepwave-audio/pcmcore/pcm"
	"github.com/deepwave-audio/pcmcore/pcm/backend/file"
	"github.com/deepwave-audio/pcmcore/pcm/open"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to a YAML stream config (optional)")
	streamName := pflag.StringP("stream", "s", "null", "destination stream name or backend literal (e.g. hw:USB Audio)")
	inPath := pflag.StringP("in", "i", "", "input file path (.wav, .flac, or raw)")
	pflag.Parse()

	log := clog.New(charmlog.New(os.Stderr))

	if *inPath == "" {
		log.Fatal("no input file given, use --in")
	}

	var reg *open.Registry
	if *configPath != "" {
		loaded, err := open.Load(*configPath)
		if err != nil {
			log.Fatal("failed to load config", "error", err.Error())
		}
		reg = loaded
	}

	src, err := file.OpenCapture(*inPath, log)
	if err != nil {
		log.Fatal("failed to open input file", "error", err.Error())
	}
	defer src.Close()

	hw := src.HWParamsCached()
	dst, err := open.OpenMatching(reg, *streamName, pcm.Playback, hw, log)
	if err != nil {
		log.Fatal("failed to open destination stream", "error", err.Error())
	}
	defer dst.Close()

	frameBytes := src.BitsPerFrame() / 8
	chunkFrames := uint(4096)
	buf := make([]byte, chunkFrames*frameBytes)

	var total uint
	for {
		n, err := src.ReadInterleaved(buf, chunkFrames)
		if n > 0 {
			if _, werr := dst.WriteInterleaved(buf[:n*frameBytes], n); werr != nil {
				log.Error("playback write failed", "error", werr.Error())
				break
			}
			total += n
		}
		if err != nil {
			if errors.Is(err, pcm.ErrBrokenPipe) {
				break
			}
			log.Error("read failed", "error", err.Error())
			break
		}
	}
	if err := dst.Drain(); err != nil {
		log.Error("drain failed", "error", err.Error())
	}
	log.Info("playback finished", "frames", total)
}
