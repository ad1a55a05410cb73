package speech

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/voicebridge/testutil"
)

func newTestElevenLabs(t *testing.T, handler http.HandlerFunc) *ElevenLabsProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := NewElevenLabsProvider(ElevenLabsConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
	}, nil)
	require.NoError(t, err)
	p.client = srv.Client()
	return p
}

func TestNewElevenLabsProviderRequiresAPIKey(t *testing.T) {
	_, err := NewElevenLabsProvider(ElevenLabsConfig{}, nil)
	require.Error(t, err)
}

func TestSynthesize(t *testing.T) {
	audio := []byte{0x01, 0x02, 0x03, 0x04}
	var gotPath, gotKey, gotFormat string
	var gotBody ttsBody
	p := newTestElevenLabs(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("xi-api-key")
		gotFormat = r.URL.Query().Get("output_format")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write(audio)
	})

	ctx := testutil.TestContext(t)
	resp, err := p.Synthesize(ctx, &TTSRequest{Text: "hello there"})
	require.NoError(t, err)

	assert.Equal(t, "/v1/text-to-speech/21m00Tcm4TlvDq8ikWAM", gotPath)
	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, "pcm_16000", gotFormat)
	assert.Equal(t, "hello there", gotBody.Text)
	assert.Equal(t, "eleven_multilingual_v2", gotBody.ModelID)
	assert.Equal(t, audio, resp.AudioData)
	assert.Equal(t, "pcm_16000", resp.Format)
	assert.Equal(t, len("hello there"), resp.CharCount)
}

func TestSynthesizeEmptyText(t *testing.T) {
	p := newTestElevenLabs(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	ctx := testutil.TestContext(t)
	_, err := p.Synthesize(ctx, &TTSRequest{})
	require.Error(t, err)
}

func TestSynthesizeUpstreamError(t *testing.T) {
	p := newTestElevenLabs(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"invalid key"}`))
	})

	ctx := testutil.TestContext(t)
	_, err := p.Synthesize(ctx, &TTSRequest{Text: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=401")
}

func TestSynthesizeStream(t *testing.T) {
	// Larger than one read so the stream spans multiple chunks.
	audio := bytes.Repeat([]byte{0xAB, 0xCD}, 5000)
	var gotPath string
	p := newTestElevenLabs(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write(audio)
	})

	ctx := testutil.TestContext(t)
	stream, err := p.SynthesizeStream(ctx, &TTSRequest{Text: "hello there"})
	require.NoError(t, err)

	var got []byte
	for chunk := range stream {
		require.NoError(t, chunk.Err)
		got = append(got, chunk.Data...)
	}

	assert.Equal(t, "/v1/text-to-speech/21m00Tcm4TlvDq8ikWAM/stream", gotPath)
	assert.Equal(t, audio, got)
}

func TestSynthesizeStreamUpstreamError(t *testing.T) {
	p := newTestElevenLabs(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("rate limited"))
	})

	ctx := testutil.TestContext(t)
	_, err := p.SynthesizeStream(ctx, &TTSRequest{Text: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=429")
}

func TestListVoices(t *testing.T) {
	p := newTestElevenLabs(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/voices", r.URL.Path)
		_, _ = w.Write([]byte(`{"voices":[
			{"voice_id":"v1","name":"Rachel","category":"premade","labels":{"language":"en"}},
			{"voice_id":"v2","name":"Adam","category":"premade"}
		]}`))
	})

	ctx := testutil.TestContext(t)
	voices, err := p.ListVoices(ctx)
	require.NoError(t, err)
	require.Len(t, voices, 2)
	assert.Equal(t, "Rachel", voices[0].Name)
	assert.Equal(t, "en", voices[0].Language)
	assert.Equal(t, "v2", voices[1].ID)
}
