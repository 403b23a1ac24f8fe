package repo

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/detectra/detectra/internal/models"
	"github.com/detectra/detectra/internal/utils"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

func newClient(baseURL string) *ClassifierClient {
	return NewClassifierClient(ClassifierOptions{
		BaseURL:       baseURL,
		PredictPath:   "/predict-image",
		FeedbackPath:  "/feedback",
		ModelInfoPath: "/model-info",
		Timeout:       time.Second,
		ModelInfoTTL:  time.Minute,
	})
}

func TestPredictSendsMultipartAndDecodes(t *testing.T) {
	overlay := []byte("overlay-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/predict-image", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NotEmpty(t, r.Header.Get(RequestIDHeader))
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "true", r.FormValue("explain"))

		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "scan.png", header.Filename)
		assert.Equal(t, pngHeader, data)

		_, _ = w.Write([]byte(`{"request_id":"req-42","prediction":"glioma","probabilities":{"glioma":0.91,"no_tumor":0.09},"gradcam":"` +
			base64.StdEncoding.EncodeToString(overlay) + `"}`))
	}))
	defer srv.Close()

	prediction, err := newClient(srv.URL).Predict(context.Background(), models.ImagePayload{Name: "scan.png", Data: pngHeader}, true)
	require.NoError(t, err)
	assert.Equal(t, "req-42", prediction.RequestID)
	assert.Equal(t, "glioma", prediction.PredictedLabel)
	assert.Equal(t, 2, prediction.Probabilities.Len())
	assert.Equal(t, "glioma", prediction.Probabilities.Entries()[0].Label)
	assert.Equal(t, overlay, prediction.ExplanationImage)
}

func TestPredictExplainFalseAndNoOverlay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "false", r.FormValue("explain"))
		_, _ = w.Write([]byte(`{"request_id":"r","prediction":"no_tumor","probabilities":{}}`))
	}))
	defer srv.Close()

	prediction, err := newClient(srv.URL).Predict(context.Background(), models.ImagePayload{Data: pngHeader}, false)
	require.NoError(t, err)
	assert.False(t, prediction.HasExplanation())
	assert.Equal(t, 0, prediction.Probabilities.Len())
}

func TestPredictServiceErrorCarriesBody(t *testing.T) {
	client := newClient("https://classifier.test")
	client.httpClient = newTestClient(func(*http.Request) (*http.Response, error) {
		return textResponse(http.StatusUnprocessableEntity, "  unsupported image  \n"), nil
	})

	_, err := client.Predict(context.Background(), models.ImagePayload{Data: pngHeader}, true)
	require.Error(t, err)
	assert.Equal(t, utils.KindService, utils.KindOf(err))
	assert.Equal(t, "unsupported image", utils.MessageOf(err, ""))
	assert.Contains(t, err.Error(), "classifier returned 422 Unprocessable Entity")
}

func TestPredictServiceErrorEmptyBody(t *testing.T) {
	client := newClient("https://classifier.test")
	client.httpClient = newTestClient(func(*http.Request) (*http.Response, error) {
		return textResponse(http.StatusInternalServerError, ""), nil
	})

	_, err := client.Predict(context.Background(), models.ImagePayload{Data: pngHeader}, true)
	require.Error(t, err)
	assert.Equal(t, "prediction failed", utils.MessageOf(err, ""))
}

func TestPredictParseFailures(t *testing.T) {
	bodies := map[string]string{
		"missing request id":    `{"prediction":"glioma","probabilities":{"glioma":1}}`,
		"empty request id":      `{"request_id":"","prediction":"glioma","probabilities":{"glioma":1}}`,
		"missing prediction":    `{"request_id":"r","probabilities":{"glioma":1}}`,
		"missing probabilities": `{"request_id":"r","prediction":"glioma"}`,
		"null probabilities":    `{"request_id":"r","prediction":"glioma","probabilities":null}`,
		"bad gradcam":           `{"request_id":"r","prediction":"glioma","probabilities":{},"gradcam":"***"}`,
		"not json":              `<html>`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			client := newClient("https://classifier.test")
			client.httpClient = newTestClient(func(*http.Request) (*http.Response, error) {
				return textResponse(http.StatusOK, body), nil
			})
			_, err := client.Predict(context.Background(), models.ImagePayload{Data: pngHeader}, true)
			require.Error(t, err)
			assert.Equal(t, utils.KindParse, utils.KindOf(err))
		})
	}
}

func TestPredictNetworkAndTimeout(t *testing.T) {
	client := newClient("https://classifier.test")
	client.httpClient = newTestClient(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})
	_, err := client.Predict(context.Background(), models.ImagePayload{Data: pngHeader}, true)
	assert.Equal(t, utils.KindNetwork, utils.KindOf(err))

	client.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = client.Predict(ctx, models.ImagePayload{Data: pngHeader}, true)
	assert.Equal(t, utils.KindTimeout, utils.KindOf(err))
}

func TestPredictPreconditions(t *testing.T) {
	_, err := newClient("").Predict(context.Background(), models.ImagePayload{Data: pngHeader}, true)
	assert.Equal(t, utils.KindPrecondition, utils.KindOf(err))

	_, err = newClient("https://classifier.test").Predict(context.Background(), models.ImagePayload{}, true)
	assert.Equal(t, utils.KindPrecondition, utils.KindOf(err))

	var nilClient *ClassifierClient
	_, err = nilClient.Predict(context.Background(), models.ImagePayload{Data: pngHeader}, true)
	assert.Equal(t, utils.KindPrecondition, utils.KindOf(err))
}

func TestSubmitFeedback(t *testing.T) {
	var got models.FeedbackSubmission
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/feedback", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := newClient(srv.URL).SubmitFeedback(context.Background(), models.FeedbackSubmission{
		RequestID:    "req-42",
		CorrectLabel: "meningioma",
		Comment:      "edge of frame",
	})
	require.NoError(t, err)
	assert.Equal(t, "req-42", got.RequestID)
	assert.Equal(t, "meningioma", got.CorrectLabel)
	assert.Equal(t, "edge of frame", got.Comment)
}

func TestSubmitFeedbackFailures(t *testing.T) {
	client := newClient("https://classifier.test")
	client.httpClient = newTestClient(func(*http.Request) (*http.Response, error) {
		return textResponse(http.StatusBadRequest, "unknown request"), nil
	})
	err := client.SubmitFeedback(context.Background(), models.FeedbackSubmission{RequestID: "r", CorrectLabel: "glioma"})
	assert.Equal(t, utils.KindService, utils.KindOf(err))
	assert.Equal(t, "unknown request", utils.MessageOf(err, ""))

	err = client.SubmitFeedback(context.Background(), models.FeedbackSubmission{RequestID: "r"})
	assert.Equal(t, utils.KindPrecondition, utils.KindOf(err))
}

func TestModelInfoCachesResults(t *testing.T) {
	var hits int32
	cacheStub := newStubCache()
	client := NewClassifierClient(ClassifierOptions{
		BaseURL:       "https://classifier.test",
		ModelInfoPath: "/model-info",
		Cache:         cacheStub,
		ModelInfoTTL:  time.Minute,
	})
	client.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		atomic.AddInt32(&hits, 1)
		if req.URL.Path != "/model-info" {
			t.Errorf("unexpected path: %s", req.URL.Path)
		}
		return textResponse(http.StatusOK, `{"model_version":"v3","classes":["glioma","meningioma","no_tumor","pituitary"]}`), nil
	})

	ctx := context.Background()
	info, err := client.ModelInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v3", info.ModelVersion)
	assert.Len(t, info.Classes, 4)

	cached, err := client.ModelInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, info, cached)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "cache hit must not reach the service")
}

func TestModelInfoSharesConcurrentLookups(t *testing.T) {
	var hits int32
	release := make(chan struct{})
	client := newClient("https://classifier.test")
	client.httpClient = newTestClient(func(*http.Request) (*http.Response, error) {
		atomic.AddInt32(&hits, 1)
		<-release
		return textResponse(http.StatusOK, `{"model_version":"v1","classes":["a"]}`), nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = client.ModelInfo(context.Background())
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&hits), int32(5))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&hits), int32(1))
}

func TestModelInfoUnavailable(t *testing.T) {
	client := newClient("https://classifier.test")
	client.httpClient = newTestClient(func(*http.Request) (*http.Response, error) {
		return textResponse(http.StatusServiceUnavailable, ""), nil
	})
	info, err := client.ModelInfo(context.Background())
	require.Error(t, err)
	assert.Equal(t, utils.KindService, utils.KindOf(err))
	assert.Empty(t, info.Classes)
}

func TestResolvePath(t *testing.T) {
	client := newClient("https://classifier.test/api/")
	assert.Equal(t, "https://classifier.test/api/predict-image", client.resolvePath("predict-image"))
	assert.Equal(t, "", newClient("").resolvePath("/x"))
}

func TestDecodeExplanationAcceptsDataURI(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("png"))
	out, err := decodeExplanation("data:image/png;base64," + encoded)
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), out)
}
