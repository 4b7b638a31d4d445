package detector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/llmlb/llmlb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDetector_OpenAIDialect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/models":
			w.Write([]byte(`{"object":"list","data":[{"id":"gpt-4"}]}`))
		case "/v1/chat/completions":
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	d := New(srv.Client(), zap.NewNop())
	res, err := d.Detect(context.Background(), srv.URL, "")
	require.NoError(t, err)
	assert.Equal(t, types.DialectOpenAI, res.Dialect)
	assert.Contains(t, res.SupportedAPIs, types.APIChatCompletions)
	assert.Equal(t, []string{"gpt-4"}, res.ProbedModels)
}

func TestDetector_OllamaFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/models":
			w.WriteHeader(http.StatusNotFound)
		case "/api/tags":
			w.Write([]byte(`{"models":[{"name":"llama3"}]}`))
		case "/api/chat":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	d := New(srv.Client(), zap.NewNop())
	res, err := d.Detect(context.Background(), srv.URL, "")
	require.NoError(t, err)
	assert.Equal(t, types.DialectOllama, res.Dialect)
	assert.Equal(t, []string{"llama3"}, res.ProbedModels)
}

func TestDetector_4xxCountsAsImplemented(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/models":
			w.Write([]byte(`{"object":"list","data":[]}`))
		case "/v1/chat/completions":
			w.WriteHeader(http.StatusUnauthorized) // implemented but rejects our fake key
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	d := New(srv.Client(), zap.NewNop())
	res, err := d.Detect(context.Background(), srv.URL, "bad-key")
	require.NoError(t, err)
	assert.Contains(t, res.SupportedAPIs, types.APIChatCompletions)
}

func TestDetector_XLLMSystem(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/models":
			w.Write([]byte(`{"object":"list","data":[{"id":"m"}]}`))
		case "/v1/chat/completions":
			w.WriteHeader(http.StatusOK)
		case "/api/system":
			w.Write([]byte(`{"xllm_version":"1.2.3"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	d := New(srv.Client(), zap.NewNop())
	res, err := d.Detect(context.Background(), srv.URL, "")
	require.NoError(t, err)
	assert.Equal(t, types.DialectXLLM, res.Dialect)
}

func TestDetector_NoRecognizableSurface(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := New(srv.Client(), zap.NewNop())
	_, err := d.Detect(context.Background(), srv.URL, "")
	require.Error(t, err)
	assert.Equal(t, types.ErrUpstreamError, types.GetErrorCode(err))
}
