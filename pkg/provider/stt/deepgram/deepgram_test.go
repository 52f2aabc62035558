package deepgram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/japamala/pkg/provider/stt"
	"github.com/coder/websocket"
)

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{SampleRate: 16000, Channels: 1, Language: "en"})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "interim_results", "true", q.Get("interim_results"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
	assertEqual(t, "endpointing", "300", q.Get("endpointing"))
}

func TestBuildURL_CustomOptions(t *testing.T) {
	p, err := New("key", WithModel("base"), WithLanguage("hi"), WithSampleRate(48000), WithEndpointing(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	q := u.Query()

	assertEqual(t, "model", "base", q.Get("model"))
	assertEqual(t, "language", "hi", q.Get("language"))
	assertEqual(t, "sample_rate", "48000", q.Get("sample_rate"))
	if _, ok := q["endpointing"]; ok {
		t.Error("expected no endpointing param when disabled")
	}
}

func TestBuildURL_LanguageOverriddenByCfg(t *testing.T) {
	p, err := New("key", WithLanguage("en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{Language: "en-IN", SampleRate: 16000})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	assertEqual(t, "language", "en-IN", u.Query().Get("language"))
}

func TestBuildURL_Keywords(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{
		SampleRate: 16000,
		Keywords: []stt.KeywordBoost{
			{Keyword: "namah", Boost: 2},
			{Keyword: "shivaya", Boost: 3.5},
		},
	})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	kws := u.Query()["keywords"]
	if len(kws) != 2 {
		t.Fatalf("expected 2 keywords, got %d: %v", len(kws), kws)
	}
	found := map[string]bool{}
	for _, kw := range kws {
		found[kw] = true
	}
	if !found["namah:2"] || !found["shivaya:3.5"] {
		t.Errorf("unexpected keywords %v", kws)
	}
}

// ---- JSON parsing tests ----

func TestParseDeepgramResponse_Final(t *testing.T) {
	raw := []byte(`{
		"type": "Results",
		"is_final": true,
		"channel": {"alternatives": [{"transcript": "om namah shivaya", "confidence": 0.95}]}
	}`)

	tr, ok := parseDeepgramResponse(raw)
	if !ok {
		t.Fatal("expected ok=true for valid Results message")
	}
	if !tr.IsFinal {
		t.Error("expected IsFinal=true")
	}
	assertEqual(t, "text", "om namah shivaya", tr.Text)
	if tr.Confidence != 0.95 || !tr.HasConfidence {
		t.Errorf("expected reported confidence 0.95, got %f (has=%v)", tr.Confidence, tr.HasConfidence)
	}
}

func TestParseDeepgramResponse_Partial(t *testing.T) {
	raw := []byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"om","confidence":0.7}]}}`)

	tr, ok := parseDeepgramResponse(raw)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if tr.IsFinal {
		t.Error("expected IsFinal=false for partial result")
	}
	assertEqual(t, "text", "om", tr.Text)
}

func TestParseDeepgramResponse_Ignored(t *testing.T) {
	tests := map[string]string{
		"metadata":           `{"type":"Metadata","request_id":"abc"}`,
		"empty alternatives": `{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`,
		"empty transcript":   `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"","confidence":0}]}}`,
		"invalid json":       `{invalid`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			if _, ok := parseDeepgramResponse([]byte(raw)); ok {
				t.Error("expected ok=false")
			}
		})
	}
}

// ---- Constructor tests ----

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	assertEqual(t, "model", defaultModel, p.model)
	assertEqual(t, "language", defaultLanguage, p.language)
	if p.sampleRate != defaultSampleRate {
		t.Errorf("expected sampleRate %d, got %d", defaultSampleRate, p.sampleRate)
	}
}

// ---- Streaming against a local WebSocket server ----

func TestStartStream_DispatchesTranscripts(t *testing.T) {
	gotAuth := make(chan string, 1)
	gotAudio := make(chan []byte, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		ctx := r.Context()

		_, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		gotAudio <- data

		_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"om","confidence":0.6}]}}`))
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"om namah","confidence":0.9}]}}`))
		c.Close(websocket.StatusNormalClosure, "done")
	}))
	defer srv.Close()

	p, err := New("secret", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := p.StartStream(ctx, stt.StreamConfig{})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer sess.Close()

	if err := sess.SendAudio([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	assertEqual(t, "authorization", "Token secret", <-gotAuth)
	if audio := <-gotAudio; len(audio) != 4 {
		t.Errorf("server received %d audio bytes, want 4", len(audio))
	}

	select {
	case tr := <-sess.Partials():
		assertEqual(t, "partial", "om", tr.Text)
	case <-ctx.Done():
		t.Fatal("timed out waiting for partial")
	}
	select {
	case tr := <-sess.Finals():
		assertEqual(t, "final", "om namah", tr.Text)
	case <-ctx.Done():
		t.Fatal("timed out waiting for final")
	}

	// The server hung up normally: channels close and Err stays nil.
	select {
	case _, ok := <-sess.Finals():
		if ok {
			t.Fatal("expected finals channel to close")
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for stream end")
	}
	if err := sess.Err(); err != nil {
		t.Errorf("Err() = %v, want nil after normal closure", err)
	}
}

func assertEqual(t *testing.T, field, want, got string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: want %q, got %q", field, want, got)
	}
}
