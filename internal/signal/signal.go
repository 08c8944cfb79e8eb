// Package signal normalizes raw detector output into the uniform observations
// consumed by the violation state machine. Detector failures degrade to
// "no face" / "no speech" instead of propagating; malformed fields are clamped.
package signal

import (
	"log"

	"github.com/invigilo/invigilo/internal/detector"
)

// FaceSignal is one normalized face/gaze observation.
// GazeAngleDegrees is defined only when Present is true.
type FaceSignal struct {
	Present          bool
	Box              *detector.BoundingBox
	Confidence       float64
	GazeAngleDegrees float64
}

// AudioSignal is one normalized voice-activity observation.
type AudioSignal struct {
	SpeechDetected bool
}

// FaceFromDetection converts a raw detection (or its failure) into a FaceSignal.
func FaceFromDetection(res detector.FaceResult, err error) FaceSignal {
	if err != nil {
		log.Printf("signal: face detector unavailable, treating as no face: %v", err)
		return FaceSignal{}
	}
	if !res.Present {
		return FaceSignal{}
	}
	conf := res.Confidence
	if conf < 0 || conf > 1 {
		log.Printf("signal: face confidence %v out of [0,1], clamping", conf)
		conf = clamp01(conf)
	}
	return FaceSignal{
		Present:          true,
		Box:              res.Box,
		Confidence:       conf,
		GazeAngleDegrees: res.GazeAngleDegrees,
	}
}

// AudioFromDetection converts a raw VAD result (or its failure) into an AudioSignal.
func AudioFromDetection(res detector.VoiceResult, err error) AudioSignal {
	if err != nil {
		log.Printf("signal: voice detector unavailable, treating as no speech: %v", err)
		return AudioSignal{}
	}
	return AudioSignal{SpeechDetected: res.SpeechDetected}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
