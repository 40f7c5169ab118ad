package generation

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(opts Options) *Client {
	opts.Logger = log.New(io.Discard)
	return NewClient(opts)
}

func TestClient_Generate_Success(t *testing.T) {
	var gotBody RequestBody
	var gotKey, gotSecret, gotContentType string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Modal-Key")
		gotSecret = r.Header.Get("Modal-Secret")
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"s3_key":"songs/x.wav","cover_image_s3_key":"covers/x.png","categories":["rock"]}`))
	}))
	defer srv.Close()

	client := testClient(Options{Key: "test-key", Secret: "test-secret"})

	prompt := "piano"
	lyrics := "verse one"
	instrumental := false
	outcome := client.Generate(context.Background(), srv.URL, RequestBody{
		Prompt:       &prompt,
		Lyrics:       &lyrics,
		Instrumental: &instrumental,
	})

	require.True(t, outcome.OK)
	assert.Equal(t, http.StatusOK, outcome.StatusCode)
	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, "test-secret", gotSecret)
	assert.Equal(t, "application/json", gotContentType)
	require.NotNil(t, gotBody.Prompt)
	assert.Equal(t, "piano", *gotBody.Prompt)

	parsed, err := ParseResponse(outcome.Body)
	require.NoError(t, err)
	assert.Equal(t, "songs/x.wav", parsed.S3Key)
}

func TestClient_Generate_Non2xxIsSoftFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := testClient(Options{Key: "k", Secret: "s"})
	outcome := client.Generate(context.Background(), srv.URL, RequestBody{})

	assert.False(t, outcome.OK)
	assert.Equal(t, http.StatusServiceUnavailable, outcome.StatusCode)
}

func TestClient_Generate_TimeoutIsSoftFailure(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	client := testClient(Options{Key: "k", Secret: "s", Timeout: 20 * time.Millisecond})
	outcome := client.Generate(context.Background(), srv.URL, RequestBody{})

	assert.False(t, outcome.OK)
	assert.Zero(t, outcome.StatusCode)
}

func TestClient_Generate_UnreachableEndpoint(t *testing.T) {
	client := testClient(Options{Key: "k", Secret: "s", Timeout: time.Second})
	outcome := client.Generate(context.Background(), "http://127.0.0.1:1/generate", RequestBody{})

	assert.False(t, outcome.OK)
}

func TestClient_Generate_CancelledContext(t *testing.T) {
	client := testClient(Options{Key: "k", Secret: "s", RequestsPerMinute: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// First call consumes the limiter burst; the cancelled wait aborts the second.
	_ = client.Generate(context.Background(), "http://127.0.0.1:1/generate", RequestBody{})
	outcome := client.Generate(ctx, "http://127.0.0.1:1/generate", RequestBody{})
	assert.False(t, outcome.OK)
}
