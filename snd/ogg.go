package snd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pion/randutil"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"gopkg.in/hraban/opus.v2"
)

// Constants
const (
	OpusFrameDuration = 20 * time.Millisecond
	// Ogg granule positions for Opus always count 48 kHz samples.
	GranuleRate        = 48000
	TimestampIncrement = GranuleRate / int(time.Second/OpusFrameDuration)
	RecorderBuffer     = 32
	maxOpusPacket      = 4000
)

var ErrRecorderClosed = errors.New("recorder closed")

var ssrcGenerator = randutil.NewMathRandomGenerator()

// Interfaces
type OggWriter interface {
	WriteRTP(*rtp.Packet) error
	Close() error
}

type OpusEncoder interface {
	Encode(pcm []int16, data []byte) (int, error)
}

type Logger interface {
	Info(interface{}, ...interface{})
	Warn(interface{}, ...interface{})
	Error(interface{}, ...interface{})
	Debug(interface{}, ...interface{})
}

// OggWriterWrapper wraps oggwriter.OggWriter to implement OggWriter interface
type OggWriterWrapper struct {
	writer *oggwriter.OggWriter
}

func NewOggWriter(w io.Writer, sampleRate int, channels uint16) (*OggWriterWrapper, error) {
	writer, err := oggwriter.NewWith(w, uint32(sampleRate), channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create OggWriter: %w", err)
	}
	return &OggWriterWrapper{writer: writer}, nil
}

func (o *OggWriterWrapper) WriteRTP(packet *rtp.Packet) error {
	return o.writer.WriteRTP(packet)
}

func (o *OggWriterWrapper) Close() error {
	return o.writer.Close()
}

// createRTPPacket creates an RTP packet with the given parameters
func createRTPPacket(sequenceNumber uint16, timestamp uint32, ssrc uint32, payload []byte) *rtp.Packet {
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    0x78,
			SequenceNumber: sequenceNumber,
			Timestamp:      timestamp,
			SSRC:           ssrc,
		},
		Payload: payload,
	}
}

// Recorder writes a session's PCM frames to an Ogg/Opus stream. Frames are
// handed to a background encoder through a bounded queue; when the queue
// is full the frame is dropped and replaced by silence so the recording
// keeps its timing.
type Recorder struct {
	oggWriter    OggWriter
	encoder      OpusEncoder
	logger       Logger
	ssrc         uint32
	frameSamples int

	mu     sync.Mutex
	closed bool
	queue  chan []int16
	done   chan struct{}
	err    error

	pending        []int16
	droppedSamples atomic.Int64
	droppedFrames  atomic.Uint64
	packetCount    int
	silentCount    int
	segmentNumber  uint64
}

// NewRecorder starts a recorder for mono PCM at sampleRate.
func NewRecorder(
	oggWriter OggWriter,
	encoder OpusEncoder,
	sampleRate int,
	ssrc uint32,
	buffer int,
	logger Logger,
) *Recorder {
	if buffer < 1 {
		buffer = RecorderBuffer
	}
	r := &Recorder{
		oggWriter:    oggWriter,
		encoder:      encoder,
		logger:       logger,
		ssrc:         ssrc,
		frameSamples: sampleRate * int(OpusFrameDuration) / int(time.Second),
		queue:        make(chan []int16, buffer),
		done:         make(chan struct{}),
	}
	go r.run()
	return r
}

// FileRecorder is a Recorder that owns the file it writes to.
type FileRecorder struct {
	*Recorder
	file *os.File
}

func (f *FileRecorder) Close() error {
	err := f.Recorder.Close()
	if cerr := f.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// CreateRecorder records to a new Ogg/Opus file at path.
func CreateRecorder(path string, sampleRate int, logger *log.Logger) (*FileRecorder, error) {
	enc, err := opus.NewEncoder(sampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create recording directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}

	w, err := NewOggWriter(f, sampleRate, 1)
	if err != nil {
		f.Close()
		return nil, err
	}

	logger.Info("recording", "file", path, "rate", sampleRate)
	return &FileRecorder{
		Recorder: NewRecorder(w, enc, sampleRate, ssrcGenerator.Uint32(), RecorderBuffer, logger),
		file:     f,
	}, nil
}

// WriteFrame queues one frame of little-endian PCM. It never blocks.
func (r *Recorder) WriteFrame(pcm []byte) {
	samples := DecodeBytes(make([]int16, 0, len(pcm)/BytesPerSample), pcm)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	select {
	case r.queue <- samples:
	default:
		r.droppedSamples.Add(int64(len(samples)))
		r.droppedFrames.Add(1)
		r.logger.Warn("Recorder queue full, dropping frame", "samples", len(samples))
	}
}

// Dropped is the number of frames lost to a full queue.
func (r *Recorder) Dropped() uint64 {
	return r.droppedFrames.Load()
}

// Close flushes buffered audio, padding the last packet with silence, and
// finalizes the Ogg stream.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRecorderClosed
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	<-r.done

	if err := r.oggWriter.Close(); err != nil && r.err == nil {
		r.err = fmt.Errorf("failed to close OggWriter: %w", err)
	}

	r.logger.Info("Recording summary",
		"total_packets", r.packetCount,
		"silent_packets", r.silentCount,
		"dropped_frames", r.droppedFrames.Load(),
	)
	return r.err
}

func (r *Recorder) run() {
	defer close(r.done)

	for samples := range r.queue {
		if r.err != nil {
			continue
		}
		if err := r.fillDropped(); err != nil {
			r.fail(err)
			continue
		}
		r.pending = append(r.pending, samples...)
		if err := r.drain(); err != nil {
			r.fail(err)
		}
	}

	if r.err != nil || len(r.pending) == 0 {
		return
	}
	padded := make([]int16, r.frameSamples)
	copy(padded, r.pending)
	r.pending = r.pending[:0]
	if err := r.encodeAndWrite(padded); err != nil {
		r.fail(err)
	}
}

func (r *Recorder) fail(err error) {
	r.err = err
	r.logger.Error("Recorder stopped writing", "error", err)
}

// drain encodes every complete Opus frame in pending.
func (r *Recorder) drain() error {
	n := 0
	for len(r.pending)-n >= r.frameSamples {
		if err := r.encodeAndWrite(r.pending[n : n+r.frameSamples]); err != nil {
			return err
		}
		n += r.frameSamples
	}
	r.pending = r.pending[:copy(r.pending, r.pending[n:])]
	return nil
}

// fillDropped writes silence for frames lost to a full queue.
func (r *Recorder) fillDropped() error {
	dropped := r.droppedSamples.Swap(0)
	if dropped == 0 {
		return nil
	}
	frames := int(dropped) / r.frameSamples
	r.droppedSamples.Add(dropped % int64(r.frameSamples))
	r.logger.Debug("Filling dropped audio with silence", "samples", dropped, "frames", frames)
	return r.writeSilentFrames(frames)
}

func (r *Recorder) encodeAndWrite(pcm []int16) error {
	data := make([]byte, maxOpusPacket)
	n, err := r.encoder.Encode(pcm, data)
	if err != nil {
		return fmt.Errorf("error encoding opus frame: %w", err)
	}
	if err := r.writeRTPPacket(data[:n]); err != nil {
		return err
	}
	r.packetCount++
	return nil
}

// writeSilentFrames writes a number of silent frames to the Ogg container
func (r *Recorder) writeSilentFrames(frames int) error {
	silentOpusPacket := []byte{0xf8, 0xff, 0xfe} // Silent Opus packet
	for i := 0; i < frames; i++ {
		if err := r.writeRTPPacket(silentOpusPacket); err != nil {
			return fmt.Errorf("error writing silent frame: %w", err)
		}
	}
	r.packetCount += frames
	r.silentCount += frames
	return nil
}

// writeRTPPacket writes an RTP packet to the Ogg container
func (r *Recorder) writeRTPPacket(payload []byte) error {
	r.segmentNumber++
	rtpPacket := createRTPPacket(
		uint16(r.segmentNumber),
		uint32(r.segmentNumber*uint64(TimestampIncrement)),
		r.ssrc,
		payload,
	)

	if err := r.oggWriter.WriteRTP(rtpPacket); err != nil {
		return fmt.Errorf("error writing RTP packet: %w", err)
	}
	return nil
}
