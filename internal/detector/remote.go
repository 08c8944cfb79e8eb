package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/invigilo/invigilo/internal/audio"
)

// RemoteFace forwards frames to an out-of-process face/gaze model server.
type RemoteFace struct {
	url    string
	client *http.Client
}

func NewRemoteFace(url string) *RemoteFace {
	return &RemoteFace{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (d *RemoteFace) Detect(ctx context.Context, image []byte) (FaceResult, error) {
	body, err := doPost(ctx, d.client, d.url, "application/octet-stream", image)
	if err != nil {
		return FaceResult{}, err
	}

	var res FaceResult
	if err := json.Unmarshal(body, &res); err != nil {
		return FaceResult{}, fmt.Errorf("decode face response: %w", err)
	}
	return res, nil
}

// RemoteVoice forwards audio chunks to an out-of-process VAD server.
// PCM is wrapped as WAV so the server can see the sample format.
type RemoteVoice struct {
	url    string
	client *http.Client
}

func NewRemoteVoice(url string) *RemoteVoice {
	return &RemoteVoice{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (d *RemoteVoice) Detect(ctx context.Context, pcm []byte) (VoiceResult, error) {
	wav, err := audio.EncodeWAVPCM16LE(pcm, audio.SampleRate)
	if err != nil {
		return VoiceResult{}, fmt.Errorf("encode wav: %w", err)
	}

	body, err := doPost(ctx, d.client, d.url, "audio/wav", wav)
	if err != nil {
		return VoiceResult{}, err
	}

	var res VoiceResult
	if err := json.Unmarshal(body, &res); err != nil {
		return VoiceResult{}, fmt.Errorf("decode voice response: %w", err)
	}
	return res, nil
}

func doPost(ctx context.Context, client *http.Client, url, contentType string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	res, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, fmt.Errorf("detector http status %d: %s", res.StatusCode, string(snippet))
	}
	return io.ReadAll(io.LimitReader(res.Body, 1<<20))
}
