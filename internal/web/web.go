package web

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"ktutimetable/internal/config"
	"ktutimetable/internal/ics"
	"ktutimetable/internal/layout"
	appLog "ktutimetable/internal/log"
	"ktutimetable/internal/model"
	"ktutimetable/internal/raster"
	"ktutimetable/internal/refresh"
	"ktutimetable/internal/viewer"
)

// Default grid size in pixels, used by the HTML page and /week.png.
const (
	DefaultWidth  = 1000
	DefaultHeight = 600

	maxImageSide = 4000
)

// Refresher triggers timetable fetches on demand.
type Refresher interface {
	Run(ctx context.Context) error
	// Switch changes the identifier only if its timetable fetches.
	Switch(ctx context.Context, id string) error
	Status() refresh.Status
	Identifier() string
}

// Options configures a Server. Zero values select defaults.
type Options struct {
	Width, Height int
	Theme         layout.Theme
	DayNames      [layout.Days]string

	// PreviewPath is the PNG written by the snapshot command, served at
	// /preview.png. Empty disables the endpoint.
	PreviewPath string

	// SaveIdentifier, if set, persists an identifier entered through
	// /api/identifier once it has fetched successfully.
	SaveIdentifier func(id string) error

	// BasicAuth, if set with a non-empty username and password, protects
	// every endpoint except /health.
	BasicAuth *config.BasicAuthConfig
}

// Server exposes the shown week as HTML, JSON and PNG.
type Server struct {
	viewer    *viewer.Viewer
	refresher Refresher
	opts      Options
	mux       *http.ServeMux

	// Rendered /week.png responses keyed by what the image depends on;
	// the key changes at least every minute because of the now marker.
	pngMu    sync.RWMutex
	pngCache *pngCache

	breakOnce sync.Once
	breakPNG  []byte
	breakErr  error
}

type pngCache struct {
	key  string
	body []byte
}

// NewServer constructs a Server. refresher may be nil, in which case
// /api/refresh answers 503.
func NewServer(v *viewer.Viewer, refresher Refresher, opts Options) *Server {
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	if opts.Theme == (layout.Theme{}) {
		opts.Theme = layout.DarkTheme
	}
	s := &Server{
		viewer:    v,
		refresher: refresher,
		opts:      opts,
		mux:       http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled")
		return s.basicAuthMiddleware(h)
	}
	return h
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+addr)
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
		appLog.Info("stopping HTTP server")
		return srv.Shutdown(shutdownCtx)
	}
}

// basicAuthEnabled reports whether a username and some form of password
// are configured.
func (s *Server) basicAuthEnabled() bool {
	a := s.opts.BasicAuth
	return a != nil && a.Username != "" && (a.Password != "" || a.PasswordHash != "")
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	creds := *s.opts.BasicAuth

	checkPassword := func(p string) bool {
		if creds.PasswordHash != "" {
			return bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(p)) == nil
		}
		return secureCompare(p, creds.Password)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, creds.Username) || !checkPassword(p) {
			w.Header().Set("WWW-Authenticate", `Basic realm="KTU timetable", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/week", s.handleWeekJSON)
	s.mux.HandleFunc("/api/refresh", s.handleRefresh)
	s.mux.HandleFunc("/api/identifier", s.handleIdentifier)
	s.mux.HandleFunc("/week.png", s.handleWeekPNG)
	s.mux.HandleFunc("/assets/break.png", s.handleBreakTexture)
	s.mux.HandleFunc("/preview.png", s.handlePreview)
	s.mux.HandleFunc("/week", s.handleWeekPage)
	s.mux.HandleFunc("/", s.handleWeekPage)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// requestSnapshot resolves the week a read request asks for: ?week=YYYY-Www,
// ?shift=N relative to the shown week, or ?reset=1 for the current week.
// None of them moves the shown week, so every client browses on its own.
// ok is false once a 400 has been written.
func (s *Server) requestSnapshot(w http.ResponseWriter, r *http.Request) (snap viewer.Snapshot, ok bool) {
	q := r.URL.Query()
	switch {
	case q.Get("week") != "":
		week, err := model.ParseIsoWeek(q.Get("week"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return snap, false
		}
		return s.viewer.SnapshotOf(week), true
	case q.Get("shift") != "":
		n, err := strconv.Atoi(q.Get("shift"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "shift must be an integer")
			return snap, false
		}
		return s.viewer.SnapshotOf(s.viewer.Week().AddWeeks(n)), true
	case q.Get("reset") != "":
		first, _ := s.viewer.Bounds()
		return s.viewer.SnapshotOf(first), true
	}
	return s.viewer.Snapshot(), true
}

// moveShownWeek applies week=YYYY-Www, shift=N or reset=1 from a POST to the
// shown week, which the plain views and snapshots follow. It reports false
// once a 400 has been written.
func (s *Server) moveShownWeek(w http.ResponseWriter, r *http.Request) bool {
	switch {
	case r.FormValue("reset") != "":
		week := s.viewer.Reset()
		appLog.Debug("week reset", "week", week.String())
	case r.FormValue("week") != "":
		target, err := model.ParseIsoWeek(r.FormValue("week"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return false
		}
		week := s.viewer.SetWeek(target)
		appLog.Debug("week set", "week", week.String())
	case r.FormValue("shift") != "":
		n, err := strconv.Atoi(r.FormValue("shift"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "shift must be an integer")
			return false
		}
		week := s.viewer.Shift(n)
		appLog.Debug("week shifted", "by", n, "week", week.String())
	}
	return true
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// handleWeekPage renders a week as an HTML grid of absolutely positioned
// blocks. A POST moves the shown week and redirects back to the plain page
// so reloading does not move it again.
func (s *Server) handleWeekPage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/week" {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead:
	case http.MethodPost:
		if s.moveShownWeek(w, r) {
			http.Redirect(w, r, r.URL.Path, http.StatusSeeOther)
		}
		return
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
		return
	}

	snap, ok := s.requestSnapshot(w, r)
	if !ok {
		return
	}
	l := s.compute(snap, s.opts.Width, s.opts.Height)
	first, last := s.viewer.Bounds()
	page := buildPage(l, snap, s.opts, r.URL.Path, s.statusText(snap))
	page.CanPrev = snap.Week.After(first)
	page.CanNext = snap.Week.Before(last)
	page.PrevWeek = snap.Week.AddWeeks(-1).String()
	page.NextWeek = snap.Week.AddWeeks(1).String()
	page.CurrentWeek = first.String()
	page.Shown = snap.Week == s.viewer.Week()
	if s.refresher != nil {
		page.AskIdentifier = !snap.Loaded || s.refresher.Identifier() == ""
		page.Identifier = s.refresher.Identifier()
	}

	var buf bytes.Buffer
	if err := weekTemplate.Execute(&buf, page); err != nil {
		appLog.Error("week page render failed", err)
		writeError(w, http.StatusInternalServerError, "failed to render week")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) statusText(snap viewer.Snapshot) string {
	var lastErr error
	if s.refresher != nil {
		lastErr = s.refresher.Status().LastError
	}
	switch {
	case !snap.Loaded && lastErr != nil:
		return "Timetable not loaded: " + DescribeFetchError(lastErr)
	case !snap.Loaded:
		return "Timetable not loaded"
	case lastErr != nil:
		return "Last refresh failed: " + DescribeFetchError(lastErr)
	}
	return ""
}

// DescribeFetchError turns fetch and refresh errors into user-facing text. An
// unreachable identifier and one without events are told apart.
func DescribeFetchError(err error) string {
	switch {
	case errors.Is(err, ics.ErrEmptyTimetable):
		return "the identifier is valid but has no scheduled events"
	case errors.Is(err, ics.ErrNotFound):
		return "invalid or unreachable identifier"
	case errors.Is(err, refresh.ErrNoIdentifier):
		return "enter a timetable identifier"
	}
	return err.Error()
}

func (s *Server) compute(snap viewer.Snapshot, width, height int) layout.Layout {
	return layout.Compute(snap.Events, snap.Week, snap.Now, layout.Params{
		Width:        float64(width),
		Height:       float64(height),
		Theme:        s.opts.Theme,
		DayNames:     s.opts.DayNames,
		BreakTexture: raster.TextureSize(),
	})
}

// handleWeekJSON returns a week, its events and card geometry. GET reads
// the week selected like the HTML page; POST moves the shown week first.
func (s *Server) handleWeekJSON(w http.ResponseWriter, r *http.Request) {
	var (
		snap viewer.Snapshot
		ok   bool
	)
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		snap, ok = s.requestSnapshot(w, r)
	case http.MethodPost:
		if ok = s.moveShownWeek(w, r); ok {
			snap = s.viewer.Snapshot()
		}
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
		return
	}
	if !ok {
		return
	}

	l := s.compute(snap, s.opts.Width, s.opts.Height)
	first, last := s.viewer.Bounds()
	resp := newWeekResponse(l, snap, first, last)
	if s.refresher != nil {
		st := s.refresher.Status()
		resp.Refresh = newRefreshDTO(st)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRefresh triggers a fetch and waits for it.
//
// POST /api/refresh
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "use POST")
		return
	}
	if s.refresher == nil {
		writeError(w, http.StatusServiceUnavailable, "refresh not configured")
		return
	}
	if err := s.refresher.Run(r.Context()); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, refresh.ErrNoIdentifier) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newRefreshDTO(s.refresher.Status()))
}

// handleIdentifier switches to a new identifier. The identifier is kept,
// and persisted through Options.SaveIdentifier, only if it fetches
// successfully; otherwise the previous identifier, timetable and refresh
// status stay in place.
//
// POST /api/identifier  (form field or JSON body "identifier")
func (s *Server) handleIdentifier(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "use POST")
		return
	}
	if s.refresher == nil {
		writeError(w, http.StatusServiceUnavailable, "refresh not configured")
		return
	}

	isForm := !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
	var id string
	if isForm {
		id = r.FormValue("identifier")
	} else {
		var body struct {
			Identifier string `json:"identifier"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		id = body.Identifier
	}
	id = strings.TrimSpace(id)
	if id == "" {
		writeError(w, http.StatusBadRequest, "identifier is required")
		return
	}

	err := s.refresher.Switch(r.Context(), id)
	if err != nil {
		appLog.Warn("identifier rejected", "error", err)
	} else if s.opts.SaveIdentifier != nil {
		if serr := s.opts.SaveIdentifier(id); serr != nil {
			appLog.Error("failed to persist identifier", serr)
		}
	}

	if isForm {
		http.Redirect(w, r, "/week", http.StatusSeeOther)
		return
	}
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, DescribeFetchError(err))
		return
	}
	writeJSON(w, http.StatusOK, newRefreshDTO(s.refresher.Status()))
}

// handleWeekPNG rasterizes the shown week, or the one selected with
// ?week=/?shift=/?reset= as on the HTML page.
//
// GET /week.png?w=1000&h=600
func (s *Server) handleWeekPNG(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	width := clamp(parseIntDefault(q.Get("w"), s.opts.Width), 1, maxImageSide)
	height := clamp(parseIntDefault(q.Get("h"), s.opts.Height), 1, maxImageSide)

	snap, ok := s.requestSnapshot(w, r)
	if !ok {
		return
	}
	key := fmt.Sprintf("%s|%dx%d|%p|%s", snap.Week, width, height, s.viewer.Timetable(), snap.Now.Format("2006-01-02T15:04"))

	s.pngMu.RLock()
	pc := s.pngCache
	s.pngMu.RUnlock()
	if pc != nil && pc.key == key {
		writePNG(w, pc.body)
		return
	}

	var buf bytes.Buffer
	if err := raster.EncodePNG(&buf, s.compute(snap, width, height), width, height); err != nil {
		appLog.Error("week png render failed", err)
		writeError(w, http.StatusInternalServerError, "failed to render week")
		return
	}

	s.pngMu.Lock()
	s.pngCache = &pngCache{key: key, body: buf.Bytes()}
	s.pngMu.Unlock()

	writePNG(w, buf.Bytes())
}

// handleBreakTexture serves the break band texture tinted for the theme.
// It is encoded once per server.
func (s *Server) handleBreakTexture(w http.ResponseWriter, _ *http.Request) {
	s.breakOnce.Do(func() {
		var buf bytes.Buffer
		s.breakErr = png.Encode(&buf, raster.TintedTexture(s.opts.Theme.DarkBackground()))
		s.breakPNG = buf.Bytes()
	})
	if s.breakErr != nil {
		appLog.Error("break texture encode failed", s.breakErr)
		writeError(w, http.StatusInternalServerError, "texture unavailable")
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	writePNG(w, s.breakPNG)
}

// handlePreview serves the last snapshot written by the snapshot command.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if s.opts.PreviewPath == "" {
		http.NotFound(w, r)
		return
	}
	// http.ServeFile answers 404 for a missing file.
	http.ServeFile(w, r, s.opts.PreviewPath)
}

func writePNG(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func clamp(v, lo, hi int) int {
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
