// Command searchd serves person search inference over HTTP.
//
// Endpoints:
//
//	GET  /healthz     liveness probe
//	POST /v1/gallery  multipart image -> detected persons with embeddings
//	POST /v1/query    multipart image + box -> one person embedding
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	personsearch "github.com/chaste10ve/person-search"
	"github.com/chaste10ve/person-search/backbone"
	"github.com/chaste10ve/person-search/config"
	"github.com/chaste10ve/person-search/proposal"
	"github.com/chaste10ve/person-search/tensor"
)

const maxUploadBytes = 32 << 20

func main() {
	var (
		configPath = flag.String("config", "config.yml", "path to the YAML configuration file")
		listen     = flag.String("listen", ":8080", "listen address")
		qps        = flag.Float64("qps", 10, "per-instance request rate limit")
		burst      = flag.Int("burst", 20, "request burst allowance")
		jsonLogs   = flag.Bool("json", false, "emit JSON logs")
	)
	flag.Parse()

	var logger *personsearch.Logger
	if *jsonLogs {
		logger = personsearch.NewJSONLogger(slog.LevelInfo)
	} else {
		logger = personsearch.NewTextLogger(slog.LevelInfo)
	}

	if err := run(*configPath, *listen, *qps, *burst, logger); err != nil {
		logger.Error("searchd failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath, listen string, qps float64, burst int, logger *personsearch.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	norm, err := cfg.BoxNormalization()
	if err != nil {
		return err
	}

	if err := backbone.InitRuntime(cfg.OnnxLibrary); err != nil {
		return fmt.Errorf("init onnx runtime: %w", err)
	}

	bb, err := backbone.New(cfg.Backbone, backbone.Config{
		HeadModel: cfg.HeadModel,
		TailModel: cfg.TailModel,
	})
	if err != nil {
		return err
	}
	proposer, err := proposal.NewONNX(proposal.ONNXConfig{
		GalleryModel: cfg.ProposalGalleryModel,
		PoolModel:    cfg.ProposalPoolModel,
	})
	if err != nil {
		bb.Close()
		return err
	}

	net, err := personsearch.NewNetwork(bb, proposer, cfg.Dataset, false,
		personsearch.WithLogger(logger),
	)
	if err != nil {
		bb.Close()
		proposer.Close()
		return err
	}
	defer net.Close()

	srv := &server{
		net:     net,
		norm:    norm,
		limiter: rate.NewLimiter(rate.Limit(qps), burst),
		logger:  logger,
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", srv.handleHealth).Methods(http.MethodGet)
	api := r.PathPrefix("/v1").Subrouter()
	api.Use(srv.limit, srv.logRequests)
	api.HandleFunc("/gallery", srv.handleGallery).Methods(http.MethodPost)
	api.HandleFunc("/query", srv.handleQuery).Methods(http.MethodPost)

	httpSrv := &http.Server{
		Addr:              listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("searchd listening", "addr", listen, "dataset", cfg.Dataset, "backbone", cfg.Backbone)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

type server struct {
	net     *personsearch.Network
	norm    config.BoxNormalization
	limiter *rate.Limiter
	logger  *personsearch.Logger
}

func (s *server) limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type galleryResponse struct {
	Regions    [][]float32 `json:"regions"`
	Scores     [][]float32 `json:"scores"`
	Boxes      [][]float32 `json:"boxes"`
	Embeddings [][]float32 `json:"embeddings"`
}

func (s *server) handleGallery(w http.ResponseWriter, r *http.Request) {
	img, info, err := s.readImage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := s.net.Gallery(r.Context(), img, nil, info, s.norm)
	if err != nil {
		if errors.Is(err, personsearch.ErrNoRegions) {
			writeJSON(w, http.StatusOK, galleryResponse{})
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, galleryResponse{
		Regions:    res.Regions,
		Scores:     res.Scores,
		Boxes:      res.Boxes,
		Embeddings: res.Embeddings,
	})
}

type queryResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (s *server) handleQuery(w http.ResponseWriter, r *http.Request) {
	img, info, err := s.readImage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	box, err := parseBox(r.FormValue("box"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	// Region coordinates arrive in original-image space; the network
	// operates on the resized image.
	scaled := []float32{0, box[0] * info.Scale, box[1] * info.Scale, box[2] * info.Scale, box[3] * info.Scale}

	emb, err := s.net.Query(r.Context(), img, [][]float32{scaled}, info)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{Embedding: emb})
}

func (s *server) readImage(r *http.Request) (img *tensor.Dense, info proposal.ImageInfo, err error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, info, fmt.Errorf("parse multipart form: %w", err)
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		return nil, info, fmt.Errorf("missing image field: %w", err)
	}
	defer file.Close()

	decoded, err := backbone.DecodeImage(file)
	if err != nil {
		return nil, info, err
	}
	t, scale, err := backbone.Preprocess(decoded, backbone.DefaultPreprocessOptions())
	if err != nil {
		return nil, info, err
	}
	info = proposal.ImageInfo{
		Height: float32(t.Dim(1)),
		Width:  float32(t.Dim(2)),
		Scale:  scale,
	}
	return t, info, nil
}

// parseBox parses "x1,y1,x2,y2".
func parseBox(s string) ([4]float32, error) {
	var box [4]float32
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return box, fmt.Errorf("box must be x1,y1,x2,y2, got %q", s)
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return box, fmt.Errorf("box coordinate %d: %w", i, err)
		}
		box[i] = float32(v)
	}
	if box[2] <= box[0] || box[3] <= box[1] {
		return box, fmt.Errorf("degenerate box %v", box)
	}
	return box, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
