package repo

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/singleflight"

	"github.com/detectra/detectra/internal/cache"
	"github.com/detectra/detectra/internal/models"
	"github.com/detectra/detectra/internal/utils"
)

const (
	opPredict   = "predict"
	opFeedback  = "feedback"
	opModelInfo = "model info"

	// RequestIDHeader carries a client-generated correlation id on every call.
	RequestIDHeader = "X-Request-ID"

	maxErrorBody = 64 << 10
)

// ClassifierOptions configures a ClassifierClient.
type ClassifierOptions struct {
	BaseURL       string
	PredictPath   string
	FeedbackPath  string
	ModelInfoPath string
	Timeout       time.Duration
	Cache         cache.Provider
	ModelInfoTTL  time.Duration
	Logger        *slog.Logger
}

// ClassifierClient wraps the tumor classification service HTTP API.
type ClassifierClient struct {
	baseURL       string
	predictPath   string
	feedbackPath  string
	modelInfoPath string
	httpClient    *http.Client
	cache         cache.Provider
	modelInfoTTL  time.Duration
	logger        *slog.Logger
	group         singleflight.Group
}

// NewClassifierClient constructs a client targeting the configured classification service.
func NewClassifierClient(opts ClassifierOptions) *ClassifierClient {
	provider := opts.Cache
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ClassifierClient{
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		predictPath:   opts.PredictPath,
		feedbackPath:  opts.FeedbackPath,
		modelInfoPath: opts.ModelInfoPath,
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		cache:        provider,
		modelInfoTTL: opts.ModelInfoTTL,
		logger:       logger,
	}
}

type predictResponse struct {
	RequestID     *string                `json:"request_id"`
	Prediction    *string                `json:"prediction"`
	Probabilities *models.ProbabilityMap `json:"probabilities"`
	GradCAM       string                 `json:"gradcam"`
}

// Predict uploads an image for classification. When explain is set the
// service is asked for a saliency overlay.
func (c *ClassifierClient) Predict(ctx context.Context, image models.ImagePayload, explain bool) (*models.Prediction, error) {
	if err := c.ready(opPredict); err != nil {
		return nil, err
	}
	if len(image.Data) == 0 {
		return nil, utils.NewAppError(opPredict, utils.KindPrecondition, "no image selected", nil)
	}

	body, contentType, err := encodeImageForm(image, explain)
	if err != nil {
		return nil, utils.NewAppError(opPredict, utils.KindPrecondition, "encode image", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolvePath(c.predictPath), body)
	if err != nil {
		return nil, utils.NewAppError(opPredict, utils.KindPrecondition, "build request", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req, opPredict)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if !successful(resp.StatusCode) {
		return nil, serviceError(opPredict, resp, "prediction failed")
	}

	var wire predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, decodeError(opPredict, err)
	}
	return wire.toPrediction()
}

func (w predictResponse) toPrediction() (*models.Prediction, error) {
	var missing []string
	if w.RequestID == nil || strings.TrimSpace(*w.RequestID) == "" {
		missing = append(missing, "request_id")
	}
	if w.Prediction == nil {
		missing = append(missing, "prediction")
	}
	if w.Probabilities == nil {
		missing = append(missing, "probabilities")
	}
	if len(missing) > 0 {
		return nil, utils.NewAppError(opPredict, utils.KindParse, "response missing "+strings.Join(missing, ", "), nil)
	}

	prediction := &models.Prediction{
		RequestID:      *w.RequestID,
		PredictedLabel: *w.Prediction,
		Probabilities:  w.Probabilities.Clone(),
	}
	if w.GradCAM != "" {
		img, err := decodeExplanation(w.GradCAM)
		if err != nil {
			return nil, utils.NewAppError(opPredict, utils.KindParse, "decode gradcam", err)
		}
		prediction.ExplanationImage = img
	}
	return prediction, nil
}

// SubmitFeedback sends a user correction for a prior prediction.
func (c *ClassifierClient) SubmitFeedback(ctx context.Context, feedback models.FeedbackSubmission) error {
	if err := c.ready(opFeedback); err != nil {
		return err
	}
	if feedback.RequestID == "" || feedback.CorrectLabel == "" {
		return utils.NewAppError(opFeedback, utils.KindPrecondition, "request id and corrected label are required", nil)
	}

	body, err := json.Marshal(feedback)
	if err != nil {
		return utils.NewAppError(opFeedback, utils.KindPrecondition, "marshal payload", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolvePath(c.feedbackPath), bytes.NewReader(body))
	if err != nil {
		return utils.NewAppError(opFeedback, utils.KindPrecondition, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req, opFeedback)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if !successful(resp.StatusCode) {
		return serviceError(opFeedback, resp, "feedback failed")
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	return nil
}

// ModelInfo returns the served model's version and classes. Results are
// cached and concurrent lookups share one upstream request.
func (c *ClassifierClient) ModelInfo(ctx context.Context) (models.ModelInfo, error) {
	if err := c.ready(opModelInfo); err != nil {
		return models.ModelInfo{}, err
	}

	key := c.modelInfoCacheKey()
	if data, err := c.cache.Get(ctx, key); err == nil {
		var info models.ModelInfo
		if err := json.Unmarshal(data, &info); err == nil {
			return info, nil
		}
		c.logger.Debug("discarding undecodable model info cache entry", slog.String("key", key))
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		c.logger.Debug("model info cache lookup failed", slog.Any("error", err))
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		info, err := c.fetchModelInfo(ctx)
		if err != nil {
			return models.ModelInfo{}, err
		}
		if data, err := json.Marshal(info); err == nil {
			if err := c.cache.Set(ctx, key, data, c.modelInfoTTL); err != nil {
				c.logger.Debug("model info cache store failed", slog.Any("error", err))
			}
		}
		return info, nil
	})
	if err != nil {
		return models.ModelInfo{}, err
	}
	info := v.(models.ModelInfo)
	info.Classes = slices.Clone(info.Classes)
	return info, nil
}

func (c *ClassifierClient) fetchModelInfo(ctx context.Context) (models.ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolvePath(c.modelInfoPath), nil)
	if err != nil {
		return models.ModelInfo{}, utils.NewAppError(opModelInfo, utils.KindPrecondition, "build request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req, opModelInfo)
	if err != nil {
		return models.ModelInfo{}, err
	}
	defer resp.Body.Close()

	if !successful(resp.StatusCode) {
		return models.ModelInfo{}, serviceError(opModelInfo, resp, "model info unavailable")
	}
	var info models.ModelInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return models.ModelInfo{}, decodeError(opModelInfo, err)
	}
	return info, nil
}

func (c *ClassifierClient) ready(op string) error {
	if c == nil {
		return utils.NewAppError(op, utils.KindPrecondition, "classifier client not initialised", nil)
	}
	if c.baseURL == "" {
		return utils.NewAppError(op, utils.KindPrecondition, "classifier base URL not configured", nil)
	}
	return nil
}

func (c *ClassifierClient) do(req *http.Request, op string) (*http.Response, error) {
	req.Header.Set(RequestIDHeader, uuid.NewString())
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("classifier request failed",
			slog.String("op", op),
			slog.String("request_id", req.Header.Get(RequestIDHeader)),
			slog.Duration("duration", time.Since(start)),
			slog.Any("error", err))
		if utils.IsTimeout(err) {
			return nil, utils.NewAppError(op, utils.KindTimeout, "request timed out", err)
		}
		return nil, utils.NewAppError(op, utils.KindNetwork, "request failed", err)
	}
	c.logger.Debug("classifier request completed",
		slog.String("op", op),
		slog.String("request_id", req.Header.Get(RequestIDHeader)),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)))
	return resp, nil
}

func (c *ClassifierClient) modelInfoCacheKey() string {
	return "detectra:model-info:" + c.resolvePath(c.modelInfoPath)
}

func (c *ClassifierClient) resolvePath(p string) string {
	if c.baseURL == "" {
		return ""
	}
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func encodeImageForm(image models.ImagePayload, explain bool) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	name := image.Name
	if name == "" {
		name = "image"
	}
	contentType := image.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(image.Data)
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(image.Data); err != nil {
		return nil, "", err
	}
	if err := writer.WriteField("explain", strconv.FormatBool(explain)); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body, writer.FormDataContentType(), nil
}

func decodeExplanation(encoded string) ([]byte, error) {
	if i := strings.Index(encoded, "base64,"); i >= 0 && strings.HasPrefix(encoded, "data:") {
		encoded = encoded[i+len("base64,"):]
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
}

func serviceError(op string, resp *http.Response, fallback string) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		msg = fallback
	}
	return utils.NewAppError(op, utils.KindService, msg, fmt.Errorf("classifier returned %s", resp.Status))
}

func decodeError(op string, err error) error {
	if utils.IsTimeout(err) {
		return utils.NewAppError(op, utils.KindTimeout, "response timed out", err)
	}
	return utils.NewAppError(op, utils.KindParse, "decode response", err)
}

func successful(status int) bool {
	return status >= 200 && status < 300
}
