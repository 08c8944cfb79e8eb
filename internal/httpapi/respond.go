package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/invigilo/invigilo/internal/detector"
	"github.com/invigilo/invigilo/internal/signal"
	"github.com/invigilo/invigilo/internal/store"
	"github.com/invigilo/invigilo/internal/violation"
)

type startResponse struct {
	SessionID string `json:"sessionId"`
}

type stopRequest struct {
	SessionID string `json:"sessionId"`
}

type stopResponse struct {
	Stopped bool `json:"stopped"`
}

type faceInfo struct {
	Box        *detector.BoundingBox `json:"box,omitempty"`
	Confidence float64               `json:"confidence"`
}

type frameResponse struct {
	Alerts  []string          `json:"alerts"`
	Face    *faceInfo         `json:"face"`
	Metrics violation.Metrics `json:"metrics"`
	Message string            `json:"message,omitempty"`
}

type audioResponse struct {
	Alerts  []string          `json:"alerts"`
	Metrics violation.Metrics `json:"metrics"`
}

type alertHistoryResponse struct {
	Alerts []store.AlertRecord `json:"alerts"`
}

// composeFrameResponse packages the state machine output for the transport
// layer: alert kinds, the observed face (null when absent), the metrics
// snapshot and the first alert's message.
func composeFrameResponse(alerts []violation.Alert, sig signal.FaceSignal, metrics violation.Metrics) frameResponse {
	res := frameResponse{
		Alerts:  alertKinds(alerts),
		Metrics: metrics,
	}
	if sig.Present {
		res.Face = &faceInfo{Box: sig.Box, Confidence: sig.Confidence}
	}
	if len(alerts) > 0 {
		res.Message = alerts[0].Message
	}
	return res
}

func composeAudioResponse(alerts []violation.Alert, metrics violation.Metrics) audioResponse {
	return audioResponse{
		Alerts:  alertKinds(alerts),
		Metrics: metrics,
	}
}

func alertKinds(alerts []violation.Alert) []string {
	kinds := make([]string, 0, len(alerts))
	for _, a := range alerts {
		kinds = append(kinds, string(a.Kind))
	}
	return kinds
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
