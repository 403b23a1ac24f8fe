package main

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"flag"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	"image/png"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/nfnt/resize"
)

var classes = []string{"glioma", "meningioma", "no_tumor", "pituitary"}

type feedbackRequest struct {
	RequestID    string `json:"request_id"`
	CorrectLabel string `json:"correct_label"`
	Comment      string `json:"comment"`
}

func main() {
	addr := flag.String("addr", ":8000", "listen address")
	flag.Parse()

	logger := log.New(log.Writer(), "classifier-mock ", log.LstdFlags|log.Lmicroseconds)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/model-info", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"model_version": "mock-2024.1",
			"classes":       classes,
		})
	})

	mux.HandleFunc("/predict-image", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "file is required"})
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "unreadable upload"})
			return
		}
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "not a decodable image"})
			return
		}

		probs, top := scores(data)
		payload := map[string]any{
			"request_id":    uuid.NewString(),
			"prediction":    top,
			"probabilities": probs,
		}
		if explain, _ := strconv.ParseBool(r.FormValue("explain")); explain {
			overlay, err := heatmap(img)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "gradcam failed"})
				return
			}
			payload["gradcam"] = "data:image/png;base64," + overlay
		}
		writeJSON(w, http.StatusOK, payload)
	})

	mux.HandleFunc("/feedback", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var fb feedbackRequest
		if err := json.NewDecoder(r.Body).Decode(&fb); err != nil || fb.RequestID == "" || fb.CorrectLabel == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "request_id and correct_label are required"})
			return
		}
		logger.Printf("feedback request=%s label=%s comment=%q", fb.RequestID, fb.CorrectLabel, fb.Comment)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           logRequests(logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

// scores derives stable pseudo-probabilities from the image bytes so the same
// scan always yields the same answer.
func scores(data []byte) (map[string]float64, string) {
	sum := sha256.Sum256(data)
	weights := make([]float64, len(classes))
	total := 0.0
	for i := range classes {
		w := float64(sum[i]) + 1
		if i == int(sum[31])%len(classes) {
			w *= 8
		}
		weights[i] = w
		total += w
	}

	probs := make(map[string]float64, len(classes))
	top, best := "", -1.0
	for i, label := range classes {
		p := weights[i] / total
		probs[label] = p
		if p > best {
			top, best = label, p
		}
	}
	return probs, top
}

func heatmap(img image.Image) (string, error) {
	small := resize.Thumbnail(224, 224, img, resize.Bilinear)
	bounds := small.Bounds()
	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, small, bounds.Min, draw.Src)

	cx, cy := bounds.Dx()/2, bounds.Dy()/2
	radius := min(bounds.Dx(), bounds.Dy()) / 4
	tint := color.RGBA{R: 255, A: 96}
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			dx, dy := x-cx, y-cy
			if dx*dx+dy*dy <= radius*radius {
				draw.Draw(out, image.Rect(x, y, x+1, y+1), &image.Uniform{C: tint}, image.Point{}, draw.Over)
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s %s", r.Method, r.URL.Path, rw.status, time.Since(start), r.Header.Get("X-Request-ID"))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
