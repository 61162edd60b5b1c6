package detector

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoteModel(t *testing.T) {
	var gotShape, gotType, gotDtype string
	var gotBytes int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/analyze/binary-batch":
			gotShape = r.Header.Get("X-Tensor-Shape")
			gotDtype = r.Header.Get("X-Tensor-Dtype")
			gotType = r.Header.Get("Content-Type")
			b, _ := io.ReadAll(r.Body)
			gotBytes = len(b)
			_, _ = w.Write([]byte(`{"success":true,"isSmiling":true,"confidence":0.9,` +
				`"metadata":{"processingTime":12.5,"modelVersion":"dual-v1","receivedFrames":2,"receivedBytes":96}}`))
		case r.URL.Path == "/health":
			w.WriteHeader(http.StatusOK)
		default:
			http.Error(w, "nope", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	m := NewRemoteModel(srv.URL+"/", 2, time.Second)
	ctx := context.Background()

	window := [][]float32{make([]float32, 12), make([]float32, 12)}
	p, err := m.Classify(ctx, window)
	require.NoError(t, err)
	assert.InDelta(t, 0.9, p, 1e-9)
	assert.Equal(t, "1,2,3,2,2", gotShape)
	assert.Equal(t, "float32", gotDtype)
	assert.Equal(t, "application/octet-stream", gotType)
	assert.Equal(t, 2*12*4, gotBytes)

	assert.True(t, m.Health(ctx))
	assert.Equal(t, int64(1), m.Stats().Calls)
	assert.Zero(t, m.Stats().Errors)
}

func TestRemoteModel_AvgScoreWhenNoConfidence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"isSmiling":false,"avgScore":0.31,` +
			`"frameResults":[{"frame":0,"score":0.3},{"frame":1,"score":0.32}]}`))
	}))
	defer srv.Close()

	p, err := NewRemoteModel(srv.URL, 2, time.Second).Classify(context.Background(), [][]float32{{0}})
	require.NoError(t, err)
	assert.InDelta(t, 0.31, p, 1e-9)
}

func TestRemoteModel_FailureBodyIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error":"InvalidTensorShape",` +
			`"message":"Expected 5D shape, got 4D","receivedShape":[1,3,2,2]}`))
	}))
	defer srv.Close()

	m := NewRemoteModel(srv.URL, 2, time.Second)
	_, err := m.Classify(context.Background(), [][]float32{{0}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "InvalidTensorShape")
	assert.Contains(t, err.Error(), "Expected 5D shape")
	assert.Equal(t, int64(1), m.Stats().Errors)
}

func TestRemoteModel_MissingScoreIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"isSmiling":true}`))
	}))
	defer srv.Close()

	m := NewRemoteModel(srv.URL, 2, time.Second)
	_, err := m.Classify(context.Background(), [][]float32{{0}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no score")
	assert.Equal(t, int64(1), m.Stats().Errors)
}

func TestRemoteModel_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m := NewRemoteModel(srv.URL, 2, time.Second)
	_, err := m.Classify(context.Background(), [][]float32{{0}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Equal(t, int64(1), m.Stats().Errors)
	assert.False(t, m.Health(context.Background()))
}
