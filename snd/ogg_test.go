package snd

import (
	"bytes"
	"errors"
	"testing"

	"github.com/pion/rtp"
)

type MockOggWriter struct {
	Packets []MockRTPPacket
	Closed  bool
}

type MockRTPPacket struct {
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
	Payload        []byte
}

func (m *MockOggWriter) WriteRTP(packet *rtp.Packet) error {
	m.Packets = append(m.Packets, MockRTPPacket{
		SequenceNumber: packet.SequenceNumber,
		Timestamp:      packet.Timestamp,
		SSRC:           packet.SSRC,
		Payload:        packet.Payload,
	})
	return nil
}

func (m *MockOggWriter) Close() error {
	m.Closed = true
	return nil
}

type MockLogger struct{}

func (m *MockLogger) Info(msg interface{}, keyvals ...interface{})  {}
func (m *MockLogger) Warn(msg interface{}, keyvals ...interface{})  {}
func (m *MockLogger) Error(msg interface{}, keyvals ...interface{}) {}
func (m *MockLogger) Debug(msg interface{}, keyvals ...interface{}) {}

// MockOpusEncoder "encodes" a frame as its sample count and first sample.
// With gate set, the first call signals entered and waits for the gate.
type MockOpusEncoder struct {
	FrameSizes []int
	entered    chan struct{}
	gate       chan struct{}
	blocked    bool
	err        error
}

func (m *MockOpusEncoder) Encode(pcm []int16, data []byte) (int, error) {
	if m.gate != nil && !m.blocked {
		m.blocked = true
		m.entered <- struct{}{}
		<-m.gate
	}
	if m.err != nil {
		return 0, m.err
	}
	m.FrameSizes = append(m.FrameSizes, len(pcm))
	data[0] = byte(len(pcm) >> 8)
	data[1] = byte(len(pcm))
	data[2] = byte(pcm[0])
	return 3, nil
}

func pcmFrame(samples int, value float32) []byte {
	frame := make([]float32, samples)
	for i := range frame {
		frame[i] = value
	}
	return append([]byte(nil), NewEncoder(samples).Bytes(frame)...)
}

func TestRecorderPacketizesFrames(t *testing.T) {
	mockWriter := &MockOggWriter{}
	mockEncoder := &MockOpusEncoder{}

	rec := NewRecorder(mockWriter, mockEncoder, 16000, 12345, 8, &MockLogger{})
	for i := 0; i < 3; i++ {
		rec.WriteFrame(pcmFrame(4096, 0))
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// 3 * 4096 samples at 320 samples per 20ms packet, last one padded.
	if len(mockWriter.Packets) != 39 {
		t.Fatalf("Expected 39 packets, got %d", len(mockWriter.Packets))
	}
	for i, packet := range mockWriter.Packets {
		if packet.SequenceNumber != uint16(i+1) {
			t.Errorf("Packet %d: sequence %d, want %d", i, packet.SequenceNumber, i+1)
		}
		if packet.Timestamp != uint32((i+1)*960) {
			t.Errorf("Packet %d: timestamp %d, want %d", i, packet.Timestamp, (i+1)*960)
		}
		if packet.SSRC != 12345 {
			t.Errorf("Packet %d: SSRC %d, want 12345", i, packet.SSRC)
		}
	}
	for i, size := range mockEncoder.FrameSizes {
		if size != 320 {
			t.Errorf("Encoded frame %d has %d samples, want 320", i, size)
		}
	}
	if !mockWriter.Closed {
		t.Error("Ogg writer not closed")
	}
}

func TestRecorderFillsDroppedFramesWithSilence(t *testing.T) {
	mockWriter := &MockOggWriter{}
	mockEncoder := &MockOpusEncoder{
		entered: make(chan struct{}, 1),
		gate:    make(chan struct{}),
	}

	rec := NewRecorder(mockWriter, mockEncoder, 16000, 1, 1, &MockLogger{})

	rec.WriteFrame(pcmFrame(320, 0.5))
	<-mockEncoder.entered
	rec.WriteFrame(pcmFrame(320, 0.5)) // queued
	rec.WriteFrame(pcmFrame(320, 0.5)) // dropped

	if rec.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", rec.Dropped())
	}

	close(mockEncoder.gate)
	if err := rec.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if len(mockWriter.Packets) != 3 {
		t.Fatalf("Expected 3 packets, got %d", len(mockWriter.Packets))
	}
	silent := mockWriter.Packets[1].Payload
	if !bytes.Equal(silent, []byte{0xf8, 0xff, 0xfe}) {
		t.Errorf("Expected silent packet in place of dropped frame, got %x", silent)
	}
}

func TestRecorderStopsOnEncodeError(t *testing.T) {
	mockWriter := &MockOggWriter{}
	boom := errors.New("encoder exploded")
	rec := NewRecorder(mockWriter, &MockOpusEncoder{err: boom}, 16000, 1, 4, &MockLogger{})

	rec.WriteFrame(pcmFrame(640, 0))
	err := rec.Close()
	if !errors.Is(err, boom) {
		t.Errorf("Close() = %v, want %v", err, boom)
	}
	if len(mockWriter.Packets) != 0 {
		t.Errorf("Expected no packets, got %d", len(mockWriter.Packets))
	}
	if err := rec.Close(); !errors.Is(err, ErrRecorderClosed) {
		t.Errorf("Second Close() = %v, want ErrRecorderClosed", err)
	}
	rec.WriteFrame(pcmFrame(320, 0))
}

func TestRecorderWritesOggContainer(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewOggWriter(&buf, 16000, 1)
	if err != nil {
		t.Fatalf("Failed to create Ogg writer: %v", err)
	}

	rec := NewRecorder(w, &MockOpusEncoder{}, 16000, 7, 4, &MockLogger{})
	rec.WriteFrame(pcmFrame(640, 0.25))
	if err := rec.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	out := buf.Bytes()
	if !bytes.HasPrefix(out, []byte("OggS")) {
		t.Errorf("Output does not start with an Ogg page")
	}
	if !bytes.Contains(out, []byte("OpusHead")) || !bytes.Contains(out, []byte("OpusTags")) {
		t.Errorf("Output is missing Opus headers")
	}
}
