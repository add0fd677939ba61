// Package web serves the extraction form, the results and the archive
// history.
package web

import (
	"embed"
	"errors"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hazyhaar/audasnap/archive"
	"github.com/hazyhaar/audasnap/fault"
	"github.com/hazyhaar/audasnap/harvest"
	"github.com/hazyhaar/audasnap/locator"
	"github.com/hazyhaar/audasnap/session"
	"github.com/hazyhaar/audasnap/zones"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed assets
var assetFS embed.FS

// Server is the HTTP front end.
type Server struct {
	ex       harvest.Extractor
	arc      *archive.Archive
	registry *prometheus.Registry
	log      *slog.Logger
	pages    map[string]*template.Template
}

// Option configures a Server.
type Option func(*Server)

// WithRegistry exposes registry on /metrics.
func WithRegistry(r *prometheus.Registry) Option { return func(s *Server) { s.registry = r } }

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.log = l } }

// New builds a Server. It panics if the embedded templates do not parse.
func New(ex harvest.Extractor, arc *archive.Archive, opts ...Option) *Server {
	s := &Server{ex: ex, arc: arc, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	s.pages = mustParsePages()
	return s
}

var funcs = template.FuncMap{
	"stamp": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Local().Format("2006-01-02 15:04:05")
	},
	// zonesTable is rendered and sanitized by the archive before storage.
	"zonesTable": func(s string) template.HTML { return template.HTML(s) },
}

func mustParsePages() map[string]*template.Template {
	pages := map[string]*template.Template{}
	for _, name := range []string{"index", "record", "history", "error"} {
		pages[name] = template.Must(template.New(name).Funcs(funcs).ParseFS(templateFS,
			"templates/layout.html", "templates/"+name+".html"))
	}
	return pages
}

// Handler returns the routed handler with the middleware stack applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(headToGet)
	r.Use(securityHeaders)
	r.Use(maxFormBody(64 * 1024))
	r.Use(traceID(s.log))

	r.Get("/", s.handleIndex)
	r.Post("/login", s.handleLogin)
	r.Get("/history", s.handleHistory)
	r.Get("/history/{folder}", s.handleRecord)

	layout := s.arc.Layout()
	prefix := strings.TrimSuffix(layout.URLPrefix, "/")
	r.Handle(prefix+"/*", http.StripPrefix(prefix, http.FileServer(noDirFS{http.Dir(layout.Root)})))

	assets, _ := fs.Sub(assetFS, "assets")
	r.Handle("/assets/*", http.StripPrefix("/assets", http.FileServer(http.FS(assets))))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok"))
	})
	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	return r
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "index", nil)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderError(w, r, http.StatusBadRequest, "The form could not be read")
		return
	}
	req := harvest.Request{
		Credentials: session.Credentials{
			Username: r.PostFormValue("username"),
			Password: r.PostFormValue("password"),
		},
		ClaimNumber: r.PostFormValue("claim_number"),
		VIN:         r.PostFormValue("vin_number"),
	}

	log := loggerFrom(r.Context())
	res, err := s.ex.Extract(r.Context(), req)
	if err != nil {
		log.Warn("web: extraction failed", "kind", fault.KindOf(err), "error", err)
		s.renderError(w, r, statusFor(err), fault.Message(err))
		return
	}
	if len(res.Record.Zones) == 0 {
		s.renderError(w, r, http.StatusNotFound, zones.ErrNoZones.Message)
		return
	}
	log.Info("web: extraction done", "folder", res.Record.Folder, "zones", len(res.Record.Zones))
	s.render(w, r, http.StatusOK, "record", res.Record)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.arc.List()
	if err != nil {
		loggerFrom(r.Context()).Error("web: list history", "error", err)
		s.renderError(w, r, http.StatusInternalServerError, "The history could not be read")
		return
	}
	s.render(w, r, http.StatusOK, "history", entries)
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	folder := chi.URLParam(r, "folder")
	rec, err := s.arc.Latest(folder)
	switch {
	case errors.Is(err, archive.ErrInvalidKey), errors.Is(err, archive.ErrNotFound):
		s.renderError(w, r, http.StatusNotFound, "Folder not found")
		return
	case err != nil:
		loggerFrom(r.Context()).Error("web: load record", "folder", folder, "error", err)
		s.renderError(w, r, http.StatusInternalServerError, "The record could not be read")
		return
	}
	s.render(w, r, http.StatusOK, "record", rec)
}

// statusFor maps a run failure to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, zones.ErrNoZones), errors.Is(err, locator.ErrRecordNotFound):
		return http.StatusNotFound
	}
	switch fault.KindOf(err) {
	case fault.KindInput:
		return http.StatusBadRequest
	case fault.KindAuth:
		return http.StatusUnauthorized
	case fault.KindNavigation:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	s.render(w, r, status, "error", msg)
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, page string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.pages[page].ExecuteTemplate(w, "layout", data); err != nil {
		loggerFrom(r.Context()).Error("web: render", "page", page, "error", err)
	}
}

// noDirFS hides directory listings of the archive tree.
type noDirFS struct{ fs http.FileSystem }

func (n noDirFS) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.IsDir() {
		f.Close()
		return nil, os.ErrNotExist
	}
	return f, nil
}
