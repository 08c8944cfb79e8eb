package audio

import "encoding/binary"

// Upload format: raw PCM16 little-endian, mono, 16 kHz.
const (
	SampleRate      = 16000
	FrameDurationMS = 30
	// FrameBytes is one VAD frame: 30ms of 16-bit samples at 16 kHz.
	FrameBytes = SampleRate * FrameDurationMS / 1000 * 2
)

// Samples decodes PCM16LE bytes into int16 samples. A trailing odd byte is dropped.
func Samples(pcm []byte) []int16 {
	n := len(pcm) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[2*i:]))
	}
	return out
}

// Frames splits a PCM16LE chunk into full VAD frames. A trailing partial frame
// is discarded; a chunk shorter than one frame yields nil.
func Frames(pcm []byte) [][]byte {
	if len(pcm) < FrameBytes {
		return nil
	}
	frames := make([][]byte, 0, len(pcm)/FrameBytes)
	for off := 0; off+FrameBytes <= len(pcm); off += FrameBytes {
		frames = append(frames, pcm[off:off+FrameBytes])
	}
	return frames
}
