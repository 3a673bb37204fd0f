// Package devserver is a local stand-in for the hosted store and upload
// services. It serves the REST and stream protocol that store.Remote
// speaks, plus an unsigned upload endpoint shaped like the hosted one.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"github.com/TheMichaelB/clinicdesk/internal/blob"
	"github.com/TheMichaelB/clinicdesk/internal/events"
	"github.com/TheMichaelB/clinicdesk/internal/store"
)

// Options configure a Server.
type Options struct {
	Addr string
	// Token, when set, is required as the auth query parameter on /db and /_ws.
	Token string
	// PublicURL prefixes upload URLs; derived from the request when empty.
	PublicURL string
	// MaxBodySize bounds REST and upload bodies.
	MaxBodySize int64
}

// Server emulates the remote store over one Memory.
type Server struct {
	store  *store.Memory
	files  *blob.LocalStore
	opts   Options
	logger *events.Logger

	upgrader websocket.Upgrader
	router   *chi.Mux

	connMu sync.Mutex
	conns  map[*streamConn]struct{}
}

// New creates a server. files may be nil to disable uploads.
func New(mem *store.Memory, files *blob.LocalStore, opts Options, logger *events.Logger) *Server {
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = 20 << 20
	}

	s := &Server{
		store:  mem,
		files:  files,
		opts:   opts,
		logger: logger.WithField("component", "devserver"),
		conns:  make(map[*streamConn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)

		r.Route("/db", func(r chi.Router) {
			r.Get("/*", s.handleGet)
			r.Put("/*", s.handlePut)
			r.Patch("/*", s.handlePatch)
			r.Post("/*", s.handlePost)
			r.Delete("/*", s.handleDelete)
		})
		r.Get("/_ws", s.handleStream)
	})

	if s.files != nil {
		r.Post("/v1_1/{cloud}/upload", s.handleUpload)
		r.Handle("/files/*", http.StripPrefix("/files/", http.FileServer(http.Dir(s.files.Dir()))))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"seq": s.store.Seq()})
	})

	return r
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.opts.Addr).Info("Store emulator listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("Shutting down store emulator")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := events.WithRequest(r.Context(), s.logger, middleware.GetReqID(r.Context()), r.Method, r.URL.Path)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		events.FromContext(ctx).WithFields(map[string]interface{}{
			"status":   ww.Status(),
			"duration": time.Since(start).String(),
		}).Debug("Request served")
	})
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Token != "" && r.URL.Query().Get("auth") != s.opts.Token {
			writeError(w, http.StatusUnauthorized, "Permission denied")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func storePath(r *http.Request) string {
	return strings.Trim(chi.URLParam(r, "*"), "/")
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) (json.RawMessage, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodySize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return nil, false
	}
	if !json.Valid(data) {
		writeError(w, http.StatusBadRequest, "Invalid data; couldn't parse JSON object")
		return nil, false
	}
	return data, true
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	path := storePath(r)

	if r.URL.Query().Get("list") != "" {
		q, err := store.ParseQuery(path, r.URL.Query())
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		snap, err := s.store.Once(r.Context(), q)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, snap)
		return
	}

	raw, err := s.store.Get(r.Context(), path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if raw == nil {
		raw = json.RawMessage("null")
	}
	writeJSON(w, http.StatusOK, raw)
}

func (s *Server) apply(w http.ResponseWriter, r *http.Request, write store.Write, reply interface{}) {
	if err := s.store.Apply(write); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrInvalidPath) {
			status = http.StatusBadRequest
		}
		events.FromContext(r.Context()).WithError(err).Warn("Write rejected")
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	s.apply(w, r, store.Write{Op: store.OpSet, Path: storePath(r), Value: body}, body)
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid data; update requires an object")
		return
	}
	s.apply(w, r, store.Write{Op: store.OpUpdate, Path: storePath(r), Value: body}, body)
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	path := storePath(r)
	if path == "" {
		writeError(w, http.StatusBadRequest, store.ErrInvalidPath.Error())
		return
	}
	key := store.NewKey()
	s.apply(w, r, store.Write{Op: store.OpSet, Path: path + "/" + key, Value: body}, map[string]string{"name": key})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	s.apply(w, r, store.Write{Op: store.OpRemove, Path: storePath(r)}, json.RawMessage("null"))
}

// ErrorResponse is the error envelope of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
