package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nfnt/resize"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/detectra/detectra/internal/config"
	"github.com/detectra/detectra/internal/engine"
	"github.com/detectra/detectra/internal/models"
	"github.com/detectra/detectra/internal/orchestrator"
)

const (
	sessionCookie = "detectra_session"
	previewEdge   = 256
	writeWait     = 10 * time.Second
	pingPeriod    = 30 * time.Second
)

type sessionKey struct{}

type handler struct {
	baseCtx   context.Context
	sessions  *Sessions
	guidance  *engine.Guidance
	logger    *slog.Logger
	maxUpload int64
	upgrader  websocket.Upgrader
}

func newHandler(baseCtx context.Context, cfg config.ServerConfig, deps Deps) *handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 20 << 20
	}
	return &handler{
		baseCtx:   baseCtx,
		sessions:  deps.Sessions,
		guidance:  deps.Guidance,
		logger:    logger,
		maxUpload: maxUpload,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

func (h *handler) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(h.withSession)
		r.Method(http.MethodGet, "/model-info", otelhttp.NewHandler(http.HandlerFunc(h.modelInfo), "model-info"))

		r.Route("/session", func(r chi.Router) {
			r.Method(http.MethodGet, "/", otelhttp.NewHandler(http.HandlerFunc(h.getSession), "get-session"))
			r.Method(http.MethodPost, "/image", otelhttp.NewHandler(http.HandlerFunc(h.uploadImage), "upload-image"))
			r.Method(http.MethodPost, "/predict", otelhttp.NewHandler(http.HandlerFunc(h.predict), "predict"))
			r.Method(http.MethodPost, "/explain", otelhttp.NewHandler(http.HandlerFunc(h.setExplain), "set-explain"))
			r.Method(http.MethodPost, "/feedback", otelhttp.NewHandler(http.HandlerFunc(h.feedback), "feedback"))
			r.Method(http.MethodPost, "/feedback/reset", otelhttp.NewHandler(http.HandlerFunc(h.resetFeedback), "reset-feedback"))
			r.Method(http.MethodGet, "/preview", otelhttp.NewHandler(http.HandlerFunc(h.preview), "preview"))
			r.Method(http.MethodGet, "/explanation", otelhttp.NewHandler(http.HandlerFunc(h.explanation), "explanation"))
			r.Get("/ws", h.stream)
		})
	})
	return r
}

// sessionView is the JSON shape of a session sent to the browser.
type sessionView struct {
	orchestrator.Snapshot
	Advice          *engine.Advice `json:"advice,omitempty"`
	HasExplanation  bool           `json:"has_explanation"`
	FeedbackMessage string         `json:"feedback_message,omitempty"`
	CanSendFeedback bool           `json:"can_send_feedback"`
}

func (h *handler) view(snap orchestrator.Snapshot) sessionView {
	v := sessionView{
		Snapshot:        snap,
		HasExplanation:  snap.Prediction.HasExplanation(),
		CanSendFeedback: snap.CanSubmitFeedback(),
	}
	if snap.Verdict != nil {
		advice := h.guidance.For(snap.Verdict)
		v.Advice = &advice
	}
	switch snap.Feedback.Phase {
	case models.PhaseSucceeded:
		v.FeedbackMessage = orchestrator.FeedbackThanksMessage
	case models.PhaseFailed:
		v.FeedbackMessage = orchestrator.FeedbackFailedMessage
	}
	return v
}

func (h *handler) getSession(w http.ResponseWriter, r *http.Request) {
	h.writeSession(w, http.StatusOK, sessionFrom(r.Context()))
}

func (h *handler) modelInfo(w http.ResponseWriter, r *http.Request) {
	info := sessionFrom(r.Context()).LoadModelInfo(r.Context())
	if info.Classes == nil {
		info.Classes = []string{}
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *handler) uploadImage(w http.ResponseWriter, r *http.Request) {
	o := sessionFrom(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid upload")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid upload")
		return
	}

	var explain *bool
	if raw := r.FormValue("explain"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "explain must be true or false")
			return
		}
		explain = &v
	}

	err = o.SelectImage(models.ImagePayload{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	})
	switch {
	case errors.Is(err, orchestrator.ErrNoImage):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, orchestrator.ErrUnsupportedImage):
		writeError(w, http.StatusUnsupportedMediaType, "Supported: JPG, PNG")
		return
	case errors.Is(err, orchestrator.ErrPredictionInFlight):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "select image failed")
		return
	}
	if explain != nil {
		o.SetExplain(*explain)
	}

	if _, ok := o.StartPrediction(h.baseCtx); !ok {
		h.writeSession(w, http.StatusConflict, o)
		return
	}
	h.writeSession(w, http.StatusAccepted, o)
}

func (h *handler) predict(w http.ResponseWriter, r *http.Request) {
	o := sessionFrom(r.Context())
	if _, ok := o.StartPrediction(h.baseCtx); !ok {
		h.writeSession(w, http.StatusConflict, o)
		return
	}
	h.writeSession(w, http.StatusAccepted, o)
}

func (h *handler) setExplain(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Explain *bool `json:"explain"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<10)).Decode(&body); err != nil || body.Explain == nil {
		writeError(w, http.StatusBadRequest, "explain must be true or false")
		return
	}
	o := sessionFrom(r.Context())
	o.SetExplain(*body.Explain)
	h.writeSession(w, http.StatusOK, o)
}

func (h *handler) feedback(w http.ResponseWriter, r *http.Request) {
	var body models.FeedbackDraft
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid feedback")
		return
	}
	o := sessionFrom(r.Context())
	if !o.SetFeedbackDraft(body.CorrectLabel, body.Comment) {
		h.writeSession(w, http.StatusConflict, o)
		return
	}
	if _, ok := o.StartFeedback(h.baseCtx); !ok {
		h.writeSession(w, http.StatusConflict, o)
		return
	}
	h.writeSession(w, http.StatusAccepted, o)
}

func (h *handler) resetFeedback(w http.ResponseWriter, r *http.Request) {
	o := sessionFrom(r.Context())
	if !o.ResetFeedback() {
		h.writeSession(w, http.StatusConflict, o)
		return
	}
	h.writeSession(w, http.StatusOK, o)
}

func (h *handler) preview(w http.ResponseWriter, r *http.Request) {
	img, ok := sessionFrom(r.Context()).Image()
	if !ok {
		writeError(w, http.StatusNotFound, "no image selected")
		return
	}
	decoded, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		writeError(w, http.StatusUnsupportedMediaType, "preview unavailable for this image")
		return
	}
	thumb := resize.Thumbnail(previewEdge, previewEdge, decoded, resize.Lanczos3)

	var buf bytes.Buffer
	if err := png.Encode(&buf, thumb); err != nil {
		writeError(w, http.StatusInternalServerError, "encode preview")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

func (h *handler) explanation(w http.ResponseWriter, r *http.Request) {
	snap := sessionFrom(r.Context()).Snapshot()
	if !snap.Prediction.HasExplanation() {
		writeError(w, http.StatusNotFound, "no explanation available")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(snap.Prediction.ExplanationImage)
}

func (h *handler) stream(w http.ResponseWriter, r *http.Request) {
	o := sessionFrom(r.Context())
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	updates, cancel := o.Subscribe()
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(h.view(snap)); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-h.baseCtx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (h *handler) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ""
		if c, err := r.Cookie(sessionCookie); err == nil {
			if parsed, err := uuid.Parse(c.Value); err == nil {
				id = parsed.String()
			}
		}
		if id == "" {
			id = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     sessionCookie,
				Value:    id,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		ctx := context.WithValue(r.Context(), sessionKey{}, h.sessions.Get(id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func(begin time.Time) {
			args := []any{
				slog.String("duration", time.Since(begin).String()),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
			}
			if ww.Status() >= http.StatusInternalServerError {
				h.logger.Warn("request failed", args...)
				return
			}
			h.logger.Debug("request completed", args...)
		}(time.Now())
		next.ServeHTTP(ww, r)
	})
}

func sessionFrom(ctx context.Context) *orchestrator.Orchestrator {
	return ctx.Value(sessionKey{}).(*orchestrator.Orchestrator)
}

func (h *handler) writeSession(w http.ResponseWriter, status int, o *orchestrator.Orchestrator) {
	writeJSON(w, status, h.view(o.Snapshot()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
