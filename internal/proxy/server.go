// Package proxy is the HTTP surface of `tb-dash serve`: cached reads of the
// backend collections, lifecycle-checked writes, Supabase cluster_data reads,
// a bearer-token gate, CORS, health and metrics.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/cache"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/clusterdata"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/dashboard"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/domain"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/gateway"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/lifecycle"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/session"
)

// ClusterDataLister reads rows of the Supabase cluster_data table.
type ClusterDataLister interface {
	List(ctx context.Context, q clusterdata.Query) ([]clusterdata.Row, error)
}

// Lifecycle applies client writes against the transition table before they
// reach the backend. *lifecycle.Controller implements it.
type Lifecycle interface {
	Initiate(ctx context.Context, anomalyID, action string) (domain.Remediation, error)
	UpdateRemediationStatus(ctx context.Context, id string, to domain.RemediationStatus) (domain.Remediation, error)
	UpdateAnomalyStatus(ctx context.Context, id string, to domain.AnomalyStatus) (domain.Anomaly, error)
}

// Config configures a Server.
type Config struct {
	// Lifecycle performs every write; the store it mutates is expected to
	// be the one passed to New.
	Lifecycle Lifecycle

	AllowedOrigins []string
	Gate           Gate
	FallbackEmpty  bool

	// TracerProvider records server spans; nil uses the global provider.
	TracerProvider trace.TracerProvider
}

// Server routes dashboard API requests.
type Server struct {
	cfg     Config
	store   *cache.Store
	data    ClusterDataLister
	builder *dashboard.Builder
	router  *mux.Router
	handler http.Handler
	log     *slog.Logger
}

// New builds the router. data may be nil when Supabase is not configured.
func New(cfg Config, store *cache.Store, data ClusterDataLister) (*Server, error) {
	if cfg.Lifecycle == nil {
		return nil, errors.New("proxy: a lifecycle controller is required for writes")
	}
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}

	s := &Server{
		cfg:     cfg,
		store:   store,
		data:    data,
		builder: dashboard.NewBuilder(store, cfg.FallbackEmpty),
		router:  mux.NewRouter(),
		log:     slog.Default().With("component", "proxy"),
	}
	s.routes()

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "apikey"},
		AllowCredentials: true,
	})
	s.handler = c.Handler(s.router)
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(recoveryMiddleware(s.log), tracingMiddleware(s.cfg.TracerProvider), loggingMiddleware(s.log))

	s.router.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(gateMiddleware(s.cfg.Gate))

	api.HandleFunc("/clusters", s.listClusters).Methods(http.MethodGet)
	api.HandleFunc("/anomalies", s.listAnomalies).Methods(http.MethodGet)
	api.HandleFunc("/remediations", s.listRemediations).Methods(http.MethodGet)
	api.HandleFunc("/summary", s.summary).Methods(http.MethodGet)
	api.HandleFunc("/cluster-data", s.listClusterData).Methods(http.MethodGet)

	api.HandleFunc("/remediations", s.initiate).Methods(http.MethodPost)
	api.HandleFunc("/remediations/{id}/status", s.updateRemediationStatus).Methods(http.MethodPatch)
	api.HandleFunc("/anomalies/{id}/status", s.updateAnomalyStatus).Methods(http.MethodPatch)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "cachedKeys": len(s.store.Keys())})
}

func (s *Server) listClusters(w http.ResponseWriter, r *http.Request) {
	serveKey[[]domain.Cluster](s, w, r, cache.ClustersKey())
}

func (s *Server) listAnomalies(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" {
		if _, err := domain.ParseAnomalyStatus(status); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	serveKey[[]domain.Anomaly](s, w, r, cache.AnomaliesKey(status))
}

func (s *Server) listRemediations(w http.ResponseWriter, r *http.Request) {
	serveKey[[]domain.Remediation](s, w, r, cache.RemediationsKey(r.URL.Query().Get("anomalyId")))
}

func serveKey[T any](s *Server, w http.ResponseWriter, r *http.Request, key cache.Key) {
	v, err := session.Load[T](r.Context(), s.store, key)
	if err != nil {
		s.log.Warn("load failed", "key", key.String(), "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	snap, err := s.builder.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, dashboard.Summarize(snap))
}

func (s *Server) listClusterData(w http.ResponseWriter, r *http.Request) {
	if s.data == nil {
		writeError(w, http.StatusNotImplemented, "cluster data source not configured")
		return
	}
	q := clusterdata.Query{
		Type:      r.URL.Query().Get("type"),
		ClusterID: r.URL.Query().Get("clusterId"),
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		q.Limit = n
	}
	rows, err := s.data.List(r.Context(), q)
	if err != nil {
		s.log.Warn("cluster data read failed", "type", q.Type, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

type initiateRequest struct {
	AnomalyID string `json:"anomalyId"`
	Action    string `json:"action"`
}

type statusRequest struct {
	Status string `json:"status"`
}

func (s *Server) initiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.AnomalyID == "" || req.Action == "" {
		writeError(w, http.StatusBadRequest, "anomalyId and action are required")
		return
	}
	rem, err := s.cfg.Lifecycle.Initiate(r.Context(), req.AnomalyID, req.Action)
	if err != nil {
		s.writeFailed(w, r, err)
		return
	}
	writesTotal.WithLabelValues("initiate", "ok").Inc()
	writeJSON(w, http.StatusCreated, rem)
}

func (s *Server) updateRemediationStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rem, err := s.cfg.Lifecycle.UpdateRemediationStatus(r.Context(), mux.Vars(r)["id"], domain.RemediationStatus(req.Status))
	if err != nil {
		s.writeFailed(w, r, err)
		return
	}
	writesTotal.WithLabelValues("remediation_status", "ok").Inc()
	writeJSON(w, http.StatusOK, rem)
}

func (s *Server) updateAnomalyStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	an, err := s.cfg.Lifecycle.UpdateAnomalyStatus(r.Context(), mux.Vars(r)["id"], domain.AnomalyStatus(req.Status))
	if err != nil {
		s.writeFailed(w, r, err)
		return
	}
	writesTotal.WithLabelValues("anomaly_status", "ok").Inc()
	writeJSON(w, http.StatusOK, an)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// writeFailed maps a lifecycle error onto a status code. Rejections the
// controller makes locally never reached the backend.
func (s *Server) writeFailed(w http.ResponseWriter, r *http.Request, err error) {
	status, result := writeStatus(err)
	writesTotal.WithLabelValues(writeOp(r), result).Inc()
	if status >= 500 {
		s.log.Warn("write failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		s.log.Debug("write rejected", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err.Error())
}

func writeStatus(err error) (int, string) {
	var (
		gwErr      *gateway.GatewayError
		timeoutErr *gateway.TimeoutError
	)
	switch {
	case errors.Is(err, domain.ErrInvalidStatus):
		return http.StatusBadRequest, "rejected"
	case errors.Is(err, domain.ErrIllegalTransition), errors.Is(err, lifecycle.ErrNotRemediable), errors.Is(err, cache.ErrMutationInFlight):
		return http.StatusConflict, "rejected"
	case errors.Is(err, lifecycle.ErrNotFound):
		return http.StatusNotFound, "rejected"
	case errors.Is(err, lifecycle.ErrGuardOpen), errors.Is(err, lifecycle.ErrCooldown):
		return http.StatusTooManyRequests, "rejected"
	case errors.As(err, &timeoutErr):
		return http.StatusGatewayTimeout, "timeout"
	case errors.As(err, &gwErr) && gwErr.Status >= 400 && gwErr.Status < 500 && !gwErr.Unauthorized():
		return gwErr.Status, "backend"
	case errors.As(err, &gwErr):
		// a backend 401/403 lands here: the rejected credential is ours, not the caller's
		return http.StatusBadGateway, "backend"
	default:
		return http.StatusInternalServerError, "error"
	}
}

func writeOp(r *http.Request) string {
	switch {
	case r.Method == http.MethodPost:
		return "initiate"
	case strings.HasPrefix(r.URL.Path, "/api/anomalies/"):
		return "anomaly_status"
	default:
		return "remediation_status"
	}
}

// maxBody caps write request bodies.
const maxBody = 64 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// NewHTTPServer wraps h with the timeouts used by `tb-dash serve`.
func NewHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
