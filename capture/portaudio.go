package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gordonklaus/portaudio"
)

// PortAudioHost captures from a local input device. The operating system
// asks for microphone consent when the stream opens, so RequestPermission
// always grants.
type PortAudioHost struct {
	logger *log.Logger
}

func NewPortAudioHost(logger *log.Logger) *PortAudioHost {
	return &PortAudioHost{logger: logger}
}

func (h *PortAudioHost) RequestPermission(ctx context.Context) (bool, error) {
	return true, nil
}

func (h *PortAudioHost) Open(ctx context.Context, cfg Config) (Source, error) {
	cfg = cfg.withDefaults()

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: initialize portaudio: %w", ErrCaptureUnavailable, err)
	}

	device, err := findInputDevice(cfg.Device)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}

	params := portaudio.LowLatencyParameters(device, nil)
	params.Input.Channels = 1
	params.Output.Channels = 0
	params.SampleRate = float64(cfg.SampleRate)
	params.FramesPerBuffer = cfg.FrameSize

	buf := make([]float32, cfg.FrameSize)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: open stream on %q: %w", ErrCaptureUnavailable, device.Name, err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: start stream: %w", ErrCaptureUnavailable, err)
	}

	h.logger.Info(
		"open",
		"device", device.Name,
		"rate", cfg.SampleRate,
		"frame", cfg.FrameSize,
	)

	src := &portAudioSource{
		stream: stream,
		buf:    buf,
		frames: make(chan []float32),
		done:   make(chan struct{}),
		logger: h.logger,
	}
	src.wg.Add(1)
	go src.readLoop()

	return src, nil
}

func findInputDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil || device == nil {
			return nil, fmt.Errorf("%w: no default input device", ErrCaptureUnavailable)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: list devices: %w", ErrCaptureUnavailable, err)
	}
	for _, device := range devices {
		if device.Name == name && device.MaxInputChannels > 0 {
			return device, nil
		}
	}
	return nil, fmt.Errorf("%w: input device %q not found", ErrCaptureUnavailable, name)
}

// ListDevices returns the host's input devices.
func ListDevices() ([]Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	var defaultName string
	if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil {
		defaultName = def.Name
	}

	var inputs []Device
	for _, d := range devices {
		if d.MaxInputChannels == 0 {
			continue
		}
		hostAPI := ""
		if d.HostApi != nil {
			hostAPI = d.HostApi.Name
		}
		inputs = append(inputs, Device{
			Name:       d.Name,
			HostAPI:    hostAPI,
			Channels:   d.MaxInputChannels,
			SampleRate: d.DefaultSampleRate,
			Default:    d.Name == defaultName,
		})
	}
	return inputs, nil
}

type portAudioSource struct {
	stream    *portaudio.Stream
	buf       []float32
	frames    chan []float32
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	logger    *log.Logger
}

func (s *portAudioSource) Frames() <-chan []float32 {
	return s.frames
}

func (s *portAudioSource) readLoop() {
	defer s.wg.Done()
	defer close(s.frames)

	for {
		if err := s.stream.Read(); err != nil {
			select {
			case <-s.done:
			default:
				s.logger.Error("read", "error", err)
			}
			return
		}

		frame := make([]float32, len(s.buf))
		copy(frame, s.buf)

		select {
		case s.frames <- frame:
		case <-s.done:
			return
		}
	}
}

func (s *portAudioSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.stream.Stop()
		s.wg.Wait()
		if cerr := s.stream.Close(); err == nil {
			err = cerr
		}
		if terr := portaudio.Terminate(); err == nil {
			err = terr
		}
		s.logger.Info("closed")
	})
	return err
}
