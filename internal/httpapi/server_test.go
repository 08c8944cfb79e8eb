package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/invigilo/invigilo/internal/config"
	"github.com/invigilo/invigilo/internal/detector"
	"github.com/invigilo/invigilo/internal/observability"
	"github.com/invigilo/invigilo/internal/session"
	"github.com/invigilo/invigilo/internal/store"
	"github.com/invigilo/invigilo/internal/violation"
)

var metricsSeq atomic.Int64

func newTestServer(t *testing.T, cfg config.Config, faces detector.Face, voices detector.Voice) (*httptest.Server, *session.Registry, store.Store) {
	t.Helper()
	if cfg.SessionIdleTimeout == 0 {
		cfg.SessionIdleTimeout = time.Hour
	}
	if cfg.LookAwayThresholdDegrees == 0 {
		cfg.LookAwayThresholdDegrees = 20
	}
	if cfg.LookAwayDuration == 0 {
		cfg.LookAwayDuration = 5 * time.Second
	}
	if cfg.FaceAbsenceThreshold == 0 {
		cfg.FaceAbsenceThreshold = 3 * time.Second
	}
	if cfg.AlertCooldown == 0 {
		cfg.AlertCooldown = 10 * time.Second
	}
	cfg.AllowAnyOrigin = true

	sessions := session.NewRegistry(violation.Config{
		LookAwayThresholdDegrees: cfg.LookAwayThresholdDegrees,
		LookAwayDuration:         cfg.LookAwayDuration,
		FaceAbsenceThreshold:     cfg.FaceAbsenceThreshold,
		AlertCooldown:            cfg.AlertCooldown,
		StartupGracePeriod:       cfg.StartupGracePeriod,
	}, cfg.SessionIdleTimeout)
	alerts := store.NewInMemoryStore()
	metrics := observability.NewMetrics(fmt.Sprintf("test_httpapi_%d", metricsSeq.Add(1)))

	if faces == nil {
		faces = detector.NewMockFace()
	}
	if voices == nil {
		voices = &detector.MockVoice{}
	}

	srv := New(cfg, sessions, faces, voices, alerts, metrics)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, sessions, alerts
}

func startSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	res, err := http.Post(ts.URL+"/api/anti-cheat/session/start", "application/json", nil)
	if err != nil {
		t.Fatalf("session start request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("session start status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var out map[string]string
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode start response: %v", err)
	}
	if out["sessionId"] == "" {
		t.Fatalf("missing sessionId in start response: %+v", out)
	}
	return out["sessionId"]
}

func multipartUpload(t *testing.T, contentType string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(map[string][]string)
	hdr["Content-Disposition"] = []string{`form-data; name="file"; filename="upload"`}
	hdr["Content-Type"] = []string{contentType}
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatalf("create multipart part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("write multipart part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func postFrame(t *testing.T, ts *httptest.Server, sessionID, imageType string, payload []byte) *http.Response {
	t.Helper()
	body, ct := multipartUpload(t, imageType, payload)
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/anti-cheat/frame", body)
	req.Header.Set("Content-Type", ct)
	if sessionID != "" {
		req.Header.Set("X-Session-Id", sessionID)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("frame request error = %v", err)
	}
	return res
}

func postAudio(t *testing.T, ts *httptest.Server, sessionID, audioType string, payload []byte) *http.Response {
	t.Helper()
	body, ct := multipartUpload(t, audioType, payload)
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/anti-cheat/audio", body)
	req.Header.Set("Content-Type", ct)
	if sessionID != "" {
		req.Header.Set("X-Session-Id", sessionID)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("audio request error = %v", err)
	}
	return res
}

func TestHealth(t *testing.T) {
	ts, _, _ := newTestServer(t, config.Config{}, nil, nil)
	res, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d, want %d", res.StatusCode, http.StatusOK)
	}
}

func TestSessionStartStop(t *testing.T) {
	ts, _, _ := newTestServer(t, config.Config{}, nil, nil)
	id := startSession(t, ts)

	res, err := http.Post(ts.URL+"/api/anti-cheat/session/stop?sessionId="+id, "application/json", nil)
	if err != nil {
		t.Fatalf("session stop request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	// Stopping again signals not found.
	res2, err := http.Post(ts.URL+"/api/anti-cheat/session/stop?sessionId="+id, "application/json", nil)
	if err != nil {
		t.Fatalf("second stop request error = %v", err)
	}
	defer res2.Body.Close()
	if res2.StatusCode != http.StatusNotFound {
		t.Fatalf("second stop status = %d, want %d", res2.StatusCode, http.StatusNotFound)
	}
}

func TestStopAcceptsJSONBody(t *testing.T) {
	ts, _, _ := newTestServer(t, config.Config{}, nil, nil)
	id := startSession(t, ts)

	body, _ := json.Marshal(map[string]string{"sessionId": id})
	res, err := http.Post(ts.URL+"/api/anti-cheat/session/stop", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("stop request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d, want %d", res.StatusCode, http.StatusOK)
	}
}

func TestBearerAuth(t *testing.T) {
	ts, _, _ := newTestServer(t, config.Config{BearerToken: "hunter2"}, nil, nil)

	res, err := http.Post(ts.URL+"/api/anti-cheat/session/start", "application/json", nil)
	if err != nil {
		t.Fatalf("unauthenticated request error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no-token status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/anti-cheat/session/start", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	res, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("wrong-token request error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong-token status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}

	req, _ = http.NewRequest(http.MethodPost, ts.URL+"/api/anti-cheat/session/start", nil)
	req.Header.Set("Authorization", "Bearer hunter2")
	res, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("authenticated request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("valid-token status = %d, want %d", res.StatusCode, http.StatusOK)
	}
}

func TestFrameRequiresSessionHeader(t *testing.T) {
	ts, _, _ := newTestServer(t, config.Config{}, nil, nil)
	res := postFrame(t, ts, "", "image/jpeg", []byte("img"))
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestFrameUnknownSessionIs404(t *testing.T) {
	ts, _, _ := newTestServer(t, config.Config{}, nil, nil)
	res := postFrame(t, ts, "ghost", "image/jpeg", []byte("img"))
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestFrameRejectsUnsupportedImageType(t *testing.T) {
	ts, _, _ := newTestServer(t, config.Config{}, nil, nil)
	id := startSession(t, ts)
	res := postFrame(t, ts, id, "text/plain", []byte("not an image"))
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestFrameWithPresentFace(t *testing.T) {
	faces := detector.NewMockFace(detector.FaceResult{
		Present:    true,
		Confidence: 0.92,
		Box:        &detector.BoundingBox{X: 10, Y: 10, Width: 80, Height: 90},
	})
	ts, _, _ := newTestServer(t, config.Config{}, faces, nil)
	id := startSession(t, ts)

	res := postFrame(t, ts, id, "image/jpeg", []byte("img"))
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("frame status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var out frameResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode frame response: %v", err)
	}
	if len(out.Alerts) != 0 {
		t.Fatalf("unexpected alerts: %v", out.Alerts)
	}
	if out.Face == nil || out.Face.Confidence != 0.92 {
		t.Fatalf("unexpected face info: %+v", out.Face)
	}
	if !out.Metrics.FacePresent {
		t.Fatalf("metrics.facePresent = false, want true")
	}
}

func TestFrameAbsenceAlertFlow(t *testing.T) {
	faces := detector.NewMockFace(detector.FaceResult{Present: false})
	ts, _, alerts := newTestServer(t, config.Config{
		FaceAbsenceThreshold: 20 * time.Millisecond,
	}, faces, nil)
	id := startSession(t, ts)

	res := postFrame(t, ts, id, "image/jpeg", []byte("img"))
	res.Body.Close()

	time.Sleep(40 * time.Millisecond)
	res = postFrame(t, ts, id, "image/png", []byte("img"))
	defer res.Body.Close()

	var out frameResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode frame response: %v", err)
	}
	if len(out.Alerts) != 1 || out.Alerts[0] != "face_presence" {
		t.Fatalf("alerts = %v, want [face_presence]", out.Alerts)
	}
	if out.Face != nil {
		t.Fatalf("face should be null when absent, got %+v", out.Face)
	}
	if !strings.Contains(out.Message, "Face not detected") {
		t.Fatalf("message = %q, want absence message", out.Message)
	}

	records, err := alerts.RecentAlerts(context.Background(), id, 10)
	if err != nil {
		t.Fatalf("RecentAlerts() error = %v", err)
	}
	if len(records) != 1 || records[0].Kind != "face_presence" {
		t.Fatalf("persisted records = %+v, want one face_presence", records)
	}
}

func TestAudioSpeechAlert(t *testing.T) {
	voices := &detector.MockVoice{Result: detector.VoiceResult{SpeechDetected: true}}
	ts, _, _ := newTestServer(t, config.Config{}, nil, voices)
	id := startSession(t, ts)

	res := postAudio(t, ts, id, "application/octet-stream", make([]byte, 960))
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("audio status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var out audioResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode audio response: %v", err)
	}
	if len(out.Alerts) != 1 || out.Alerts[0] != "voice" {
		t.Fatalf("alerts = %v, want [voice]", out.Alerts)
	}
	if !out.Metrics.SpeechDetected {
		t.Fatalf("metrics.speech = false, want true")
	}
}

func TestAudioRejectsUnsupportedType(t *testing.T) {
	ts, _, _ := newTestServer(t, config.Config{}, nil, nil)
	id := startSession(t, ts)
	res := postAudio(t, ts, id, "audio/mpeg", []byte("mp3"))
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestDetectorFailureDegradesToNoViolation(t *testing.T) {
	faces := detector.NewMockFace().FailWith(io.ErrUnexpectedEOF)
	ts, _, _ := newTestServer(t, config.Config{}, faces, nil)
	id := startSession(t, ts)

	res := postFrame(t, ts, id, "image/jpeg", []byte("img"))
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("frame status = %d, want %d (detector failure must not fail the call)", res.StatusCode, http.StatusOK)
	}

	var out frameResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode frame response: %v", err)
	}
	if len(out.Alerts) != 0 {
		t.Fatalf("alerts = %v, want none on first degraded tick", out.Alerts)
	}
	if out.Face != nil {
		t.Fatalf("face = %+v, want null on detector failure", out.Face)
	}
}

func TestRecentAlertsEndpoint(t *testing.T) {
	voices := &detector.MockVoice{Result: detector.VoiceResult{SpeechDetected: true}}
	ts, _, _ := newTestServer(t, config.Config{}, nil, voices)
	id := startSession(t, ts)

	res := postAudio(t, ts, id, "audio/raw", make([]byte, 960))
	res.Body.Close()

	hres, err := http.Get(ts.URL + "/api/anti-cheat/session/" + id + "/alerts")
	if err != nil {
		t.Fatalf("alerts request error = %v", err)
	}
	defer hres.Body.Close()
	if hres.StatusCode != http.StatusOK {
		t.Fatalf("alerts status = %d, want %d", hres.StatusCode, http.StatusOK)
	}

	var out alertHistoryResponse
	if err := json.NewDecoder(hres.Body).Decode(&out); err != nil {
		t.Fatalf("decode alerts response: %v", err)
	}
	if len(out.Alerts) != 1 || out.Alerts[0].Kind != "voice" {
		t.Fatalf("history = %+v, want one voice alert", out.Alerts)
	}
}

func TestWatchStreamsAlerts(t *testing.T) {
	voices := &detector.MockVoice{Result: detector.VoiceResult{SpeechDetected: true}}
	ts, _, _ := newTestServer(t, config.Config{}, nil, voices)
	id := startSession(t, ts)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/anti-cheat/session/" + id + "/watch"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("watch dial error = %v", err)
	}
	defer conn.Close()

	res := postAudio(t, ts, id, "audio/pcm", make([]byte, 960))
	res.Body.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event watchEvent
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("watch read error = %v", err)
	}
	if event.Type != "alert" || event.SessionID != id || event.Alert.Kind != violation.KindVoice {
		t.Fatalf("unexpected watch event: %+v", event)
	}
}

func TestWatchUnknownSessionIs404(t *testing.T) {
	ts, _, _ := newTestServer(t, config.Config{}, nil, nil)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/anti-cheat/session/ghost/watch"
	_, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("dial for unknown session should fail")
	}
	if res == nil || res.StatusCode != http.StatusNotFound {
		t.Fatalf("watch status = %v, want 404", res)
	}
}
