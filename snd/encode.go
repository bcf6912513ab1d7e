package snd

import (
	"encoding/binary"
	"math"
)

// BytesPerSample is the width of one wire sample: signed 16-bit PCM.
const BytesPerSample = 2

// EncodeSample converts one normalized sample to signed 16-bit PCM.
// Negative values scale by 32768 and the rest by 32767, so both ends of
// [-1, 1] land exactly on the int16 limits.
func EncodeSample(s float32) int16 {
	switch {
	case s != s: // NaN
		return 0
	case s > 1:
		s = 1
	case s < -1:
		s = -1
	}
	if s < 0 {
		return int16(math.Round(float64(s) * 32768))
	}
	return int16(math.Round(float64(s) * 32767))
}

// Encode converts a frame of normalized samples to 16-bit PCM.
// An empty frame yields an empty result.
func Encode(frame []float32) []int16 {
	out := make([]int16, len(frame))
	for i, s := range frame {
		out[i] = EncodeSample(s)
	}
	return out
}

// Encoder turns frames into little-endian PCM bytes, reusing one buffer
// across calls. It is not safe for concurrent use.
type Encoder struct {
	buf []byte
}

func NewEncoder(frameSize int) *Encoder {
	return &Encoder{buf: make([]byte, 0, frameSize*BytesPerSample)}
}

// Bytes encodes frame into the encoder's buffer. The returned slice is
// only valid until the next call.
func (e *Encoder) Bytes(frame []float32) []byte {
	n := len(frame) * BytesPerSample
	if cap(e.buf) < n {
		e.buf = make([]byte, n)
	}
	e.buf = e.buf[:n]
	for i, s := range frame {
		binary.LittleEndian.PutUint16(e.buf[i*2:], uint16(EncodeSample(s)))
	}
	return e.buf
}

// DecodeBytes reads little-endian PCM back into dst, growing it as needed.
func DecodeBytes(dst []int16, pcm []byte) []int16 {
	n := len(pcm) / BytesPerSample
	for i := 0; i < n; i++ {
		dst = append(dst, int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return dst
}
