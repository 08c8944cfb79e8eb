// Package violation turns per-frame and per-chunk observations into debounced,
// cooldown-gated violation alerts. One Monitor per exam session; callers must
// serialize access (the session registry holds a per-session lock).
package violation

import (
	"fmt"
	"math"
	"time"

	"github.com/invigilo/invigilo/internal/signal"
)

// Kind identifies a violation alert type.
type Kind string

const (
	KindFacePresence Kind = "face_presence"
	KindEyeGaze      Kind = "eye_gaze"
	KindVoice        Kind = "voice"
)

// GazeState is the eye-gaze sub-detector state.
type GazeState string

const (
	GazeOnScreen         GazeState = "on_screen"
	GazeLookingAwayTimer GazeState = "looking_away_timing"
	GazeViolating        GazeState = "violating"
)

// PresenceState is the face-presence sub-detector state.
type PresenceState string

const (
	FacePresent      PresenceState = "present"
	FaceAbsentTiming PresenceState = "absent_timing"
	FaceViolating    PresenceState = "violating"
)

// Alert is an emitted violation notification. Alerts are transient output
// values; they are never stored on the Monitor.
type Alert struct {
	Kind           Kind      `json:"kind"`
	Message        string    `json:"message"`
	ElapsedSeconds float64   `json:"elapsedSeconds"`
	At             time.Time `json:"at"`
}

// Metrics is the diagnostics snapshot computed on every process call.
type Metrics struct {
	FacePresent    bool          `json:"facePresent"`
	FaceConfidence float64       `json:"faceConfidence"`
	SpeechDetected bool          `json:"speech"`
	Gaze           GazeState     `json:"gazeState"`
	Presence       PresenceState `json:"presenceState"`
}

// Config holds the violation thresholds for one monitor.
type Config struct {
	LookAwayThresholdDegrees float64
	LookAwayDuration         time.Duration
	FaceAbsenceThreshold     time.Duration
	AlertCooldown            time.Duration
	// StartupGracePeriod suppresses violations right after session start so the
	// candidate can settle in front of the camera.
	StartupGracePeriod time.Duration
}

func (c Config) withDefaults() Config {
	if c.LookAwayThresholdDegrees <= 0 {
		c.LookAwayThresholdDegrees = 20
	}
	if c.LookAwayDuration <= 0 {
		c.LookAwayDuration = 5 * time.Second
	}
	if c.FaceAbsenceThreshold <= 0 {
		c.FaceAbsenceThreshold = 3 * time.Second
	}
	if c.AlertCooldown < 0 {
		c.AlertCooldown = 0
	}
	return c
}

// Monitor is the per-session violation state machine. It holds three
// independent sub-detectors sharing one session record: eye gaze and face
// presence accumulate duration before violating, voice fires immediately.
// Not safe for concurrent use.
type Monitor struct {
	cfg Config
	now func() time.Time

	startedAt time.Time

	gaze          GazeState
	gazeAwaySince time.Time

	presence        PresenceState
	faceAbsentSince time.Time

	lastAlertAt map[Kind]time.Time
	metrics     Metrics
}

func NewMonitor(cfg Config) *Monitor {
	return &Monitor{
		cfg:         cfg.withDefaults(),
		now:         time.Now,
		gaze:        GazeOnScreen,
		presence:    FacePresent,
		lastAlertAt: make(map[Kind]time.Time),
		metrics:     Metrics{Gaze: GazeOnScreen, Presence: FacePresent},
	}
}

// SetClock replaces the monitor's time source. Tests only.
func (m *Monitor) SetClock(now func() time.Time) {
	m.now = now
}

// Snapshot returns the metrics computed by the most recent process call.
func (m *Monitor) Snapshot() Metrics {
	return m.metrics
}

// ProcessFrame consumes one face/gaze observation and returns any newly
// emitted alerts plus the current metrics snapshot. Face presence is evaluated
// before gaze: gaze cannot be judged without a face.
func (m *Monitor) ProcessFrame(sig signal.FaceSignal) ([]Alert, Metrics) {
	now := m.tick()

	m.metrics.FacePresent = sig.Present
	m.metrics.FaceConfidence = sig.Confidence

	if m.inGracePeriod(now) {
		m.resetPresence()
		m.resetGaze()
		return nil, m.metrics
	}

	var alerts []Alert
	if a, ok := m.observePresence(sig, now); ok {
		alerts = append(alerts, a)
	}
	if a, ok := m.observeGaze(sig, now); ok {
		alerts = append(alerts, a)
	}
	return alerts, m.metrics
}

// ProcessAudio consumes one voice-activity observation. Any detected speech is
// itself the violation; only the cooldown window gates re-emission.
func (m *Monitor) ProcessAudio(sig signal.AudioSignal) ([]Alert, Metrics) {
	now := m.tick()

	m.metrics.SpeechDetected = sig.SpeechDetected

	if m.inGracePeriod(now) || !sig.SpeechDetected {
		return nil, m.metrics
	}

	a, ok := m.emit(KindVoice, "Human speech detected", 0, now)
	if !ok {
		return nil, m.metrics
	}
	return []Alert{a}, m.metrics
}

func (m *Monitor) observePresence(sig signal.FaceSignal, now time.Time) (Alert, bool) {
	if sig.Present {
		m.resetPresence()
		return Alert{}, false
	}

	if m.faceAbsentSince.IsZero() {
		m.faceAbsentSince = now
		m.presence = FaceAbsentTiming
		m.metrics.Presence = m.presence
		return Alert{}, false
	}

	elapsed := now.Sub(m.faceAbsentSince)
	if elapsed < m.cfg.FaceAbsenceThreshold {
		return Alert{}, false
	}

	m.presence = FaceViolating
	m.metrics.Presence = m.presence
	msg := fmt.Sprintf("Face not detected for %.1f seconds", elapsed.Seconds())
	return m.emit(KindFacePresence, msg, elapsed.Seconds(), now)
}

func (m *Monitor) observeGaze(sig signal.FaceSignal, now time.Time) (Alert, bool) {
	if !sig.Present {
		// Indeterminate: gaze cannot be judged without a face. Absence itself
		// is handled by the presence detector.
		m.resetGaze()
		return Alert{}, false
	}

	// The threshold is an exclusive bound: an angle exactly at it is on-screen.
	if math.Abs(sig.GazeAngleDegrees) <= m.cfg.LookAwayThresholdDegrees {
		m.resetGaze()
		return Alert{}, false
	}

	if m.gazeAwaySince.IsZero() {
		m.gazeAwaySince = now
		m.gaze = GazeLookingAwayTimer
		m.metrics.Gaze = m.gaze
		return Alert{}, false
	}

	elapsed := now.Sub(m.gazeAwaySince)
	if elapsed < m.cfg.LookAwayDuration {
		return Alert{}, false
	}

	m.gaze = GazeViolating
	m.metrics.Gaze = m.gaze
	msg := fmt.Sprintf("Looking away for %.1f seconds", elapsed.Seconds())
	return m.emit(KindEyeGaze, msg, elapsed.Seconds(), now)
}

func (m *Monitor) resetPresence() {
	m.faceAbsentSince = time.Time{}
	m.presence = FacePresent
	m.metrics.Presence = m.presence
}

func (m *Monitor) resetGaze() {
	m.gazeAwaySince = time.Time{}
	m.gaze = GazeOnScreen
	m.metrics.Gaze = m.gaze
}

// emit applies the per-kind cooldown. lastAlertAt only moves forward because
// the session clock is monotonic.
func (m *Monitor) emit(kind Kind, msg string, elapsedSeconds float64, now time.Time) (Alert, bool) {
	if last, ok := m.lastAlertAt[kind]; ok && now.Sub(last) < m.cfg.AlertCooldown {
		return Alert{}, false
	}
	m.lastAlertAt[kind] = now
	return Alert{
		Kind:           kind,
		Message:        msg,
		ElapsedSeconds: elapsedSeconds,
		At:             now,
	}, true
}

func (m *Monitor) tick() time.Time {
	now := m.now()
	if m.startedAt.IsZero() {
		m.startedAt = now
	}
	return now
}

func (m *Monitor) inGracePeriod(now time.Time) bool {
	return m.cfg.StartupGracePeriod > 0 && now.Sub(m.startedAt) < m.cfg.StartupGracePeriod
}
