package detector

import (
	"context"
	"sync"
)

// MockFace returns scripted results, cycling through them. Used in tests and
// when no face detector URL is configured in dev mode.
type MockFace struct {
	mu      sync.Mutex
	results []FaceResult
	calls   int
	err     error
}

func NewMockFace(results ...FaceResult) *MockFace {
	return &MockFace{results: results}
}

// FailWith makes every Detect call return err.
func (d *MockFace) FailWith(err error) *MockFace {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
	return d
}

func (d *MockFace) Detect(_ context.Context, _ []byte) (FaceResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return FaceResult{}, d.err
	}
	if len(d.results) == 0 {
		return FaceResult{Present: true, Confidence: 0.9}, nil
	}
	res := d.results[d.calls%len(d.results)]
	d.calls++
	return res, nil
}

// MockVoice returns a fixed result.
type MockVoice struct {
	Result VoiceResult
	Err    error
}

func (d *MockVoice) Detect(_ context.Context, _ []byte) (VoiceResult, error) {
	if d.Err != nil {
		return VoiceResult{}, d.Err
	}
	return d.Result, nil
}
