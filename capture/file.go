package capture

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// FileHost replays a WAV file as if it were a live input. Multi-channel
// files are mixed down to mono. With Realtime set, frames are paced at the
// file's sample rate.
type FileHost struct {
	Path     string
	Realtime bool
	logger   *log.Logger
}

func NewFileHost(path string, realtime bool, logger *log.Logger) *FileHost {
	return &FileHost{Path: path, Realtime: realtime, logger: logger}
}

func (h *FileHost) RequestPermission(ctx context.Context) (bool, error) {
	return true, nil
}

func (h *FileHost) Open(ctx context.Context, cfg Config) (Source, error) {
	cfg = cfg.withDefaults()

	f, err := os.Open(h.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
	}

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("%w: %s is not a valid wav file", ErrCaptureUnavailable, h.Path)
	}
	if decoder.BitDepth == 0 || decoder.BitDepth > 32 {
		f.Close()
		return nil, fmt.Errorf("%w: unsupported bit depth %d", ErrCaptureUnavailable, decoder.BitDepth)
	}
	if int(decoder.SampleRate) != cfg.SampleRate {
		f.Close()
		return nil, fmt.Errorf(
			"%w: %s is %d Hz, expected %d Hz",
			ErrCaptureUnavailable,
			h.Path,
			decoder.SampleRate,
			cfg.SampleRate,
		)
	}
	if err := decoder.FwdToPCM(); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: seek to pcm data: %w", ErrCaptureUnavailable, err)
	}

	channels := int(decoder.NumChans)
	if channels < 1 {
		channels = 1
	}

	h.logger.Info(
		"open",
		"file", h.Path,
		"rate", decoder.SampleRate,
		"channels", channels,
		"depth", decoder.BitDepth,
	)

	src := &fileSource{
		file:     f,
		decoder:  decoder,
		channels: channels,
		scale:    float32(int64(1) << (decoder.BitDepth - 1)),
		offset:   pcmOffset(int(decoder.BitDepth)),
		size:     cfg.FrameSize,
		frames:   make(chan []float32),
		done:     make(chan struct{}),
		logger:   h.logger,
	}
	if h.Realtime {
		src.pace = time.Duration(cfg.FrameSize) * time.Second / time.Duration(cfg.SampleRate)
	}

	src.wg.Add(1)
	go src.readLoop()
	return src, nil
}

// pcmOffset is the zero level of a sample. 8-bit WAV PCM is unsigned.
func pcmOffset(bitDepth int) int {
	if bitDepth == 8 {
		return 128
	}
	return 0
}

type fileSource struct {
	file      *os.File
	decoder   *wav.Decoder
	channels  int
	scale     float32
	offset    int
	size      int
	pace      time.Duration
	frames    chan []float32
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	logger    *log.Logger
}

func (s *fileSource) Frames() <-chan []float32 {
	return s.frames
}

func (s *fileSource) readLoop() {
	defer s.wg.Done()
	defer close(s.frames)

	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: s.channels,
			SampleRate:  int(s.decoder.SampleRate),
		},
		Data: make([]int, s.size*s.channels),
	}

	var ticker *time.Ticker
	if s.pace > 0 {
		ticker = time.NewTicker(s.pace)
		defer ticker.Stop()
	}

	for {
		n, err := s.decoder.PCMBuffer(buf)
		if err != nil {
			s.logger.Error("read", "error", err)
			return
		}
		if n == 0 {
			s.logger.Info("end of file")
			return
		}

		frame := s.mixdown(buf.Data[:n])

		if ticker != nil {
			select {
			case <-ticker.C:
			case <-s.done:
				return
			}
		}

		select {
		case s.frames <- frame:
		case <-s.done:
			return
		}
	}
}

// mixdown averages interleaved channels into a new full-size mono frame,
// zero-padding a short final read. The consumer owns the returned frame.
func (s *fileSource) mixdown(data []int) []float32 {
	frame := make([]float32, s.size)
	for i := 0; i < s.size && (i+1)*s.channels <= len(data); i++ {
		var sum int
		for c := 0; c < s.channels; c++ {
			sum += data[i*s.channels+c] - s.offset
		}
		frame[i] = float32(sum) / float32(s.channels) / s.scale
	}
	return frame
}

func (s *fileSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		err = s.file.Close()
	})
	return err
}
