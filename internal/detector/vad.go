package detector

import (
	"context"
	"fmt"
	"math"

	"github.com/invigilo/invigilo/internal/audio"
)

// vadProfile holds per-aggressiveness decision thresholds. Higher aggressiveness
// tolerates less noise before calling a frame speech.
type vadProfile struct {
	minLogEnergy      float64
	maxZCR            float64
	consecutiveFrames int
}

var vadProfiles = [4]vadProfile{
	{minLogEnergy: -3.4, maxZCR: 0.30, consecutiveFrames: 2},
	{minLogEnergy: -3.1, maxZCR: 0.26, consecutiveFrames: 3},
	{minLogEnergy: -2.8, maxZCR: 0.22, consecutiveFrames: 5},
	{minLogEnergy: -2.5, maxZCR: 0.18, consecutiveFrames: 6},
}

// LocalVAD is an in-process energy/zero-crossing voice activity detector for
// raw PCM16LE mono 16kHz chunks. Speech is reported only after enough
// consecutive speech-like 30ms frames within the chunk, which filters out
// clicks and short bursts. Each call evaluates its chunk independently.
type LocalVAD struct {
	profile vadProfile
}

// NewLocalVAD creates a detector with the given aggressiveness mode (0-3).
func NewLocalVAD(aggressiveness int) (*LocalVAD, error) {
	if aggressiveness < 0 || aggressiveness > 3 {
		return nil, fmt.Errorf("vad aggressiveness %d out of range 0..3", aggressiveness)
	}
	return &LocalVAD{profile: vadProfiles[aggressiveness]}, nil
}

func (d *LocalVAD) Detect(_ context.Context, pcm []byte) (VoiceResult, error) {
	run := 0
	for _, frame := range audio.Frames(pcm) {
		if d.isSpeechFrame(frame) {
			run++
			if run >= d.profile.consecutiveFrames {
				return VoiceResult{SpeechDetected: true}, nil
			}
		} else {
			run = 0
		}
	}
	return VoiceResult{}, nil
}

func (d *LocalVAD) isSpeechFrame(frame []byte) bool {
	samples := audio.Samples(frame)
	if len(samples) == 0 {
		return false
	}

	var sumSq float64
	crossings := 0
	prevPositive := samples[0] >= 0
	for _, s := range samples {
		v := float64(s) / 32768.0
		sumSq += v * v
		positive := s >= 0
		if positive != prevPositive {
			crossings++
			prevPositive = positive
		}
	}

	logEnergy := math.Log10(sumSq/float64(len(samples)) + 1e-10)
	zcr := float64(crossings) / float64(len(samples))

	// Voiced speech sits above the noise floor with a low zero-crossing rate;
	// hiss and fricative-free noise crosses zero far more often.
	return logEnergy >= d.profile.minLogEnergy && zcr <= d.profile.maxZCR
}
