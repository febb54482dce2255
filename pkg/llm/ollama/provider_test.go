package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "github.com/kart-io/docask/pkg/errors"
	"github.com/kart-io/docask/pkg/llm"
)

// fakeOllama 记录最后一次请求体并返回固定应答。
func fakeOllama(t *testing.T, path string, reply string) (string, *map[string]any) {
	t.Helper()
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, path, r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv.URL, &got
}

func settings(url string) llm.Settings {
	return llm.Settings{BaseURL: url, Model: "m", Timeout: 5 * time.Second}
}

func TestRegistered(t *testing.T) {
	e, err := llm.NewEmbeddingProvider(ProviderName, llm.Settings{BaseURL: "http://ollama:11434/", Model: "m", Dimensions: 768})
	require.NoError(t, err)
	assert.Equal(t, 768, e.Dimension())
	assert.Equal(t, "http://ollama:11434", e.(*Embedder).base)

	_, err = llm.NewChatProvider(ProviderName, llm.Settings{})
	assert.ErrorIs(t, err, apierrors.ErrConfigInvalid)
}

func TestEmbed(t *testing.T) {
	url, got := fakeOllama(t, "/api/embed", `{"embeddings":[[1,0],[0,1]]}`)
	e, err := NewEmbedder(settings(url))
	require.NoError(t, err)

	out, err := e.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, out)
	assert.Equal(t, "m", (*got)["model"])
	assert.Len(t, (*got)["input"], 2)
}

func TestEmbed_CountMismatch(t *testing.T) {
	url, _ := fakeOllama(t, "/api/embed", `{"embeddings":[[1,0]]}`)
	e, err := NewEmbedder(settings(url))
	require.NoError(t, err)
	_, err = e.Embed(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, apierrors.ErrEmbeddingUnavailable)
}

func TestGenerate(t *testing.T) {
	url, got := fakeOllama(t, "/api/generate", `{"response":"hi","done":true}`)
	c, err := NewChat(settings(url))
	require.NoError(t, err)

	out, err := c.Generate(context.Background(), "hello", "sys")
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
	assert.Equal(t, "sys", (*got)["system"])
	assert.Equal(t, false, (*got)["stream"])
}

func TestChat(t *testing.T) {
	url, _ := fakeOllama(t, "/api/chat", `{"message":{"role":"assistant","content":"pong"},"done":true}`)
	c, err := NewChat(settings(url))
	require.NoError(t, err)

	out, err := c.Chat(context.Background(), llm.Conversation("", "ping"))
	require.NoError(t, err)
	assert.Equal(t, "pong", out)
}

func TestGenerate_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := NewChat(settings(srv.URL))
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), "hello", "")
	assert.ErrorIs(t, err, apierrors.ErrGenerationUnavailable)
}
