package detector

import "context"

// BoundingBox locates a detected face within the frame, in pixel coordinates.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// FaceResult is one face/gaze observation for a single frame.
// GazeAngleDegrees is meaningful only when Present is true.
type FaceResult struct {
	Present          bool         `json:"present"`
	Box              *BoundingBox `json:"box,omitempty"`
	Confidence       float64      `json:"confidence"`
	GazeAngleDegrees float64      `json:"gazeAngleDegrees"`
}

// VoiceResult is one voice-activity observation for a single audio chunk.
type VoiceResult struct {
	SpeechDetected bool `json:"speechDetected"`
}

// Face turns raw image bytes into a face/gaze observation.
type Face interface {
	Detect(ctx context.Context, image []byte) (FaceResult, error)
}

// Voice turns raw PCM16LE mono 16kHz bytes into a voice-activity observation.
type Voice interface {
	Detect(ctx context.Context, pcm []byte) (VoiceResult, error)
}
