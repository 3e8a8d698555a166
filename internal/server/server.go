// Package server is the HTTP surface. It exposes document management,
// retrieval queries, knowledge-graph readouts, image serving, chat
// sessions and operational endpoints over a chi router, translating
// structured errors into JSON responses with the right status codes.
// All domain work is delegated to the RAG facade, the status catalog
// and the background indexer.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/ragforge/ragserver/internal/catalog"
	"github.com/ragforge/ragserver/internal/chat"
	"github.com/ragforge/ragserver/internal/config"
	"github.com/ragforge/ragserver/internal/indexer"
	"github.com/ragforge/ragserver/internal/metrics"
	"github.com/ragforge/ragserver/internal/provider"
	"github.com/ragforge/ragserver/internal/rag"
	"github.com/ragforge/ragserver/internal/retriever"
	"github.com/ragforge/ragserver/pkg/version"
)

const (
	// maxJSONBody bounds non-upload request bodies.
	maxJSONBody = 10 << 20

	// requestTimeout bounds one request end to end. Long work (parsing,
	// remote completions) must fit or move to the background indexer.
	requestTimeout = 30 * time.Second

	// shutdownGrace is how long in-flight requests get to drain.
	shutdownGrace = 15 * time.Second

	// fileCacheSize bounds the resolved-path cache for /api/files.
	fileCacheSize = 512
)

// Facade is the slice of the RAG service the HTTP surface drives.
// *rag.Service satisfies it.
type Facade interface {
	ProcessDocument(ctx context.Context, path, outputDir, parseMethod string) rag.ProcessResult
	Query(ctx context.Context, query, mode string, opts rag.QueryOptions) (string, error)
	QueryWithMultimodal(ctx context.Context, query string, items []retriever.MultimodalItem, mode string, opts rag.QueryOptions) (string, error)
	Retriever(ctx context.Context) (retriever.Engine, error)
	Ready() bool
	Status() rag.ServiceStatus
}

// Catalog is the slice of the status catalog the handlers read and
// write. *catalog.Store satisfies it.
type Catalog interface {
	Upsert(ctx context.Context, rec catalog.IndexStatus) error
	List(ctx context.Context) ([]catalog.IndexStatus, error)
	CountByStatus(ctx context.Context) (map[catalog.Status]int, error)
}

// Indexer triggers reconciliation on demand. *indexer.Indexer satisfies
// it.
type Indexer interface {
	TriggerIndex(ctx context.Context) (indexer.TriggerResult, error)
}

// Deps are the collaborators behind the HTTP surface. RAG and Catalog
// are required. A nil Indexer turns trigger-index into 503; a nil Chat
// does the same for the chat endpoints.
type Deps struct {
	RAG     Facade
	Catalog Catalog
	Indexer Indexer
	Chat    *chat.Store
}

// Server carries the handler state and the embedded http.Server.
type Server struct {
	cfg  *config.Config
	rag  Facade
	cat  Catalog
	idx  Indexer
	chat *chat.Store
	log  *slog.Logger

	fileCache *lru.Cache[string, string]

	httpSrv *http.Server
}

// New wires the surface. Run starts it; Handler exposes the router for
// in-process tests.
func New(cfg *config.Config, deps Deps, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	cache, _ := lru.New[string, string](fileCacheSize)
	return &Server{
		cfg:       cfg,
		rag:       deps.RAG,
		cat:       deps.Catalog,
		idx:       deps.Indexer,
		chat:      deps.Chat,
		log:       log,
		fileCache: cache,
	}
}

// Handler builds the full route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.instrument)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	uploadLimit := middleware.RequestSize(int64(s.cfg.Server.MaxUploadMB) << 20)
	jsonLimit := middleware.RequestSize(maxJSONBody)

	r.Route("/api", func(api chi.Router) {
		api.Route("/documents", func(dr chi.Router) {
			dr.With(uploadLimit).Post("/upload", s.handleUpload)
			dr.With(uploadLimit).Post("/upload-and-process", s.handleUploadAndProcess)
			dr.With(jsonLimit).Post("/process", s.handleProcess)
			dr.Get("/list", s.handleList)
			dr.Get("/details", s.handleDetails)
			dr.Get("/index-status", s.handleIndexStatus)
			dr.Post("/trigger-index", s.handleTriggerIndex)
			dr.Delete("/delete/{filename}", s.handleDelete)
		})

		api.Route("/query", func(qr chi.Router) {
			qr.Use(jsonLimit)
			qr.Post("/", s.handleQuery)
			qr.Post("/multimodal", s.handleQueryMultimodal)
			qr.Post("/conversation", s.handleQueryConversation)
		})

		api.Route("/graph", func(gr chi.Router) {
			gr.Get("/data", s.handleGraphData)
			gr.Get("/stats", s.handleGraphStats)
		})

		api.Route("/chat", func(cr chi.Router) {
			cr.Use(jsonLimit)
			cr.Get("/sessions", s.handleChatList)
			cr.Post("/sessions", s.handleChatCreate)
			cr.Get("/sessions/{id}", s.handleChatGet)
			cr.Delete("/sessions/{id}", s.handleChatDelete)
			cr.Post("/sessions/{id}/messages", s.handleChatMessage)
		})

		api.Get("/files", s.handleFiles)
		api.Get("/config", s.handleConfig)
	})

	return r
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.Port))
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("http_listen", slog.String("addr", addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		s.log.Info("http_shutdown")
		return s.httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// instrument records one canonical log line and the Prometheus series
// per request, keyed by the matched route pattern rather than the raw
// path so cardinality stays bounded.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())

		lvl := slog.LevelInfo
		switch r.URL.Path {
		case "/health", "/ready", "/metrics":
			lvl = slog.LevelDebug
		}
		s.log.Log(r.Context(), lvl, "http_request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Int64("elapsed_ms", elapsed.Milliseconds()),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("remote", r.RemoteAddr))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": version.Short(),
	})
}

// handleReady gates on the catalog; the retriever initializes lazily so
// an unbuilt engine does not make the service unready.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	catalogState := "ok"
	ready := true
	if _, err := s.cat.CountByStatus(r.Context()); err != nil {
		catalogState = err.Error()
		ready = false
	}

	retrieverState := "uninitialized"
	if s.rag.Ready() {
		retrieverState = "ready"
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"ready":     ready,
		"catalog":   catalogState,
		"retriever": retrieverState,
	})
}

// handleConfig returns the effective configuration with credentials
// redacted.
func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	cfg := *s.cfg
	cfg.Providers.LLM = scrubModel(cfg.Providers.LLM)
	cfg.Providers.Embedding = scrubModel(cfg.Providers.Embedding)
	cfg.Providers.Vision = scrubModel(cfg.Providers.Vision)
	cfg.Providers.Reranker = scrubModel(cfg.Providers.Reranker)
	writeJSON(w, http.StatusOK, cfg)
}

func scrubModel(mc provider.ModelConfig) provider.ModelConfig {
	if mc.APIKey != "" {
		mc.APIKey = "[redacted]"
	}
	return mc
}
