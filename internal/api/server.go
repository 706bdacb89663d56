// Package api provides the HTTP server and handlers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/medleyfs/medley/internal/catalog"
	"github.com/medleyfs/medley/internal/config"
	"github.com/medleyfs/medley/internal/listing"
	"github.com/medleyfs/medley/internal/logging"
	"github.com/medleyfs/medley/internal/media"
	"github.com/medleyfs/medley/internal/metrics"
	"github.com/medleyfs/medley/internal/policy"
	"github.com/medleyfs/medley/internal/sandbox"
)

// Catalog is the read surface of the catalog store the handlers need.
type Catalog interface {
	GetByUUID(ctx context.Context, id string) (*catalog.Entry, error)
	Random(ctx context.Context) (*catalog.Entry, error)
	Search(ctx context.Context, q string, limit int) ([]*catalog.Entry, error)
}

// Syncer feeds filesystem sightings into the catalog without blocking the
// request path.
type Syncer interface {
	Enqueue(absPath string)
	EnqueueTree(absPath string)
}

// Server is the HTTP server.
type Server struct {
	resolver *sandbox.Resolver
	filter   *policy.Filter
	engine   *listing.Engine
	pipeline *media.Pipeline
	catalog  Catalog
	syncer   Syncer
	config   *config.Config

	// RootAccess decides whether a request may see directories in root-level
	// listings. Nil means permissive.
	RootAccess func(*http.Request) bool
}

// NewServer creates a new server. catalog and syncer may be nil when the
// server runs without a database.
func NewServer(
	cfg *config.Config,
	resolver *sandbox.Resolver,
	filter *policy.Filter,
	engine *listing.Engine,
	pipeline *media.Pipeline,
	cat Catalog,
	syncer Syncer,
) *Server {
	return &Server{
		resolver: resolver,
		filter:   filter,
		engine:   engine,
		pipeline: pipeline,
		catalog:  cat,
		syncer:   syncer,
		config:   cfg,
	}
}

// Handler returns the HTTP handler with metrics and logging middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/v1/list", s.handleList)
	mux.HandleFunc("GET /api/v1/list/{path...}", s.handleList)
	mux.HandleFunc("GET /api/v1/media/{path...}", s.handleMedia)

	mux.HandleFunc("GET /api/v1/catalog/random", s.handleCatalogRandom)
	mux.HandleFunc("GET /api/v1/catalog/{uuid}", s.handleCatalogByUUID)
	mux.HandleFunc("GET /api/v1/search", s.handleSearch)

	return metrics.Middleware(logging.Middleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": "1.0"})
}

// resolvePath sandboxes the {path...} wildcard. Any resolution failure is
// reported as an opaque 403: the reason a path was refused is not leaked.
func (s *Server) resolvePath(w http.ResponseWriter, r *http.Request) (abs, rel string, ok bool) {
	rel = strings.Trim(r.PathValue("path"), "/")
	abs, err := s.resolver.ResolveRel(rel)
	if err != nil {
		metrics.RecordSandboxRejection()
		logging.Debug("rejected path", zap.String("path", rel), zap.Error(err))
		s.sendError(w, http.StatusForbidden, "forbidden")
		return "", "", false
	}
	return abs, rel, true
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	abs, rel, ok := s.resolvePath(w, r)
	if !ok {
		return
	}
	// An excluded directory is indistinguishable from an absent one.
	if rel != "" && s.filter.IsExcluded(rel, !strings.Contains(rel, "/")) {
		s.sendError(w, http.StatusNotFound, "not found")
		return
	}

	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		s.sendError(w, http.StatusNotFound, "not found")
		return
	}

	opts := listing.Options{
		Sort:       parseSort(r),
		Page:       parsePage(r),
		RootAccess: s.rootAccess(r),
	}

	entries, hasMore, err := s.engine.List(abs, opts)
	if err != nil {
		metrics.RecordListing(0, false)
		logging.Error("listing failed", zap.String("path", rel), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "listing failed")
		return
	}
	metrics.RecordListing(len(entries), true)

	if s.syncer != nil {
		s.syncer.EnqueueTree(abs)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Has-More", strconv.FormatBool(hasMore))
	json.NewEncoder(w).Encode(entries)
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	abs, rel, ok := s.resolvePath(w, r)
	if !ok {
		return
	}
	if rel == "" {
		s.sendError(w, http.StatusNotFound, "not found")
		return
	}
	if s.filter.IsExcluded(rel, !strings.Contains(rel, "/")) ||
		s.filter.IsDisallowedExtension(rel) {
		s.sendError(w, http.StatusNotFound, "not found")
		return
	}

	info, err := os.Stat(abs)
	if err != nil || info.IsDir() {
		s.sendError(w, http.StatusNotFound, "not found")
		return
	}

	if s.syncer != nil {
		s.syncer.Enqueue(abs)
	}

	kind, n, err := s.pipeline.Deliver(w, r, abs)
	if err != nil {
		metrics.RecordMediaDelivery(kind, n, false)
		logging.Error("media delivery failed", zap.String("path", rel), zap.Error(err))
		if n == 0 {
			if errors.Is(err, media.ErrTransformRejected) {
				s.sendError(w, http.StatusInternalServerError, "transform failed")
			} else {
				s.sendError(w, http.StatusInternalServerError, "delivery failed")
			}
		}
		return
	}
	metrics.RecordMediaDelivery(kind, n, true)
}

func (s *Server) handleCatalogRandom(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		s.sendError(w, http.StatusServiceUnavailable, "catalog unavailable")
		return
	}
	entry, err := s.catalog.Random(r.Context())
	if err != nil {
		s.catalogError(w, err)
		return
	}
	s.sendJSON(w, entry)
}

func (s *Server) handleCatalogByUUID(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		s.sendError(w, http.StatusServiceUnavailable, "catalog unavailable")
		return
	}
	entry, err := s.catalog.GetByUUID(r.Context(), r.PathValue("uuid"))
	if err != nil {
		s.catalogError(w, err)
		return
	}
	s.sendJSON(w, entry)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		s.sendError(w, http.StatusServiceUnavailable, "catalog unavailable")
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		s.sendError(w, http.StatusBadRequest, "q required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	results, err := s.catalog.Search(r.Context(), q, limit)
	if err != nil {
		s.catalogError(w, err)
		return
	}
	if results == nil {
		results = []*catalog.Entry{}
	}
	s.sendJSON(w, results)
}

func (s *Server) rootAccess(r *http.Request) bool {
	if s.RootAccess == nil {
		return true
	}
	return s.RootAccess(r)
}

// parseSort finds the first recognized field name among the query keys; its
// value is the direction ("name=asc", "size=desc").
func parseSort(r *http.Request) listing.SortSpec {
	q := r.URL.Query()
	for key, vals := range q {
		field, ok := listing.ParseSortField(key)
		if !ok || len(vals) == 0 {
			continue
		}
		return listing.SortSpec{Field: field, Dir: listing.ParseSortDir(vals[0])}
	}
	return listing.SortSpec{}
}

func parsePage(r *http.Request) listing.PageSpec {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	page, _ := strconv.Atoi(q.Get("page"))
	return listing.PageSpec{Limit: limit, Page: page}
}

func (s *Server) catalogError(w http.ResponseWriter, err error) {
	if errors.Is(err, catalog.ErrNotFound) {
		s.sendError(w, http.StatusNotFound, "not found")
		return
	}
	logging.Error("catalog query failed", zap.Error(err))
	s.sendError(w, http.StatusInternalServerError, "catalog query failed")
}

func (s *Server) sendJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(errorResponse{Error: message, Code: code})
}
