// Command pcmrec records audio from a configured stream to a file.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/deepwave-audio/pcmcore/internal/clog"
	"github.com/deepwave-audio/pcmcore/pcm"
	"github.com/deepwave-audio/pcmcore/pcm/backend/file"
	"github.com/deepwave-audio/pcmcore/pcm/open"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to a YAML stream config (optional)")
	streamName := pflag.StringP("stream", "s", "null", "source stream name or backend literal (e.g. hw:USB Audio)")
	outPath := pflag.StringP("out", "o", "recording.wav", "output file path (.wav or raw; FLAC output is not supported)")
	duration := pflag.DurationP("duration", "d", 0, "recording duration; 0 records until the source ends")
	pflag.Parse()

	log := clog.New(charmlog.New(os.Stderr))

	var reg *open.Registry
	if *configPath != "" {
		loaded, err := open.Load(*configPath)
		if err != nil {
			log.Fatal("failed to load config", "error", err.Error())
		}
		reg = loaded
	}

	src, err := open.Open(reg, *streamName, pcm.Capture, log)
	if err != nil {
		log.Fatal("failed to open source stream", "error", err.Error())
	}
	defer src.Close()

	dst, err := file.OpenPlayback(*outPath, file.FormatFromPath(*outPath), src.HWParamsCached(), log)
	if err != nil {
		log.Fatal("failed to open output file", "error", err.Error())
	}
	defer dst.Close()

	frameBytes := src.BitsPerFrame() / 8
	chunkFrames := uint(4096)
	buf := make([]byte, chunkFrames*frameBytes)

	var deadline time.Time
	if *duration > 0 {
		deadline = time.Now().Add(*duration)
	}

	var total uint
	for {
		if !deadline.IsZero() && time.Now().After(deadline) {
			break
		}
		n, err := src.ReadInterleaved(buf, chunkFrames)
		if n > 0 {
			if _, werr := dst.WriteInterleaved(buf[:n*frameBytes], n); werr != nil {
				log.Error("failed to write recorded audio", "error", werr.Error())
				break
			}
			total += n
		}
		if err != nil {
			if errors.Is(err, pcm.ErrBrokenPipe) {
				log.Info("source exhausted, stopping recording")
				break
			}
			log.Error("read failed", "error", err.Error())
			break
		}
	}

	fmt.Printf("recorded %d frames to %s\n", total, *outPath)
}
