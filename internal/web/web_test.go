package web

import (
	"context"
	"encoding/json"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"ktutimetable/internal/config"
	"ktutimetable/internal/ics"
	"ktutimetable/internal/model"
	"ktutimetable/internal/refresh"
	"ktutimetable/internal/viewer"
)

// monday10 is Monday of 2024-W05 at 10:00.
var monday10 = time.Date(2024, time.January, 29, 10, 0, 0, 0, time.Local)

func sampleTimetable() *model.Timetable {
	return model.NewTimetable([]model.Event{{
		Category:    model.CategoryYellow,
		Date:        model.Date(2024, time.January, 29),
		StartTime:   model.NewClock(9, 0, 0),
		EndTime:     model.NewClock(10, 30, 0),
		Summary:     "P123B123 Dummy module",
		ModuleName:  "Dummy module",
		Description: "Lecture",
		Location:    "Room 101",
	}})
}

type fakeRefresher struct {
	mu  sync.Mutex
	err error
	// valid, when set, makes every other identifier fail with
	// ics.ErrNotFound.
	valid  string
	id     string
	calls  int
	status refresh.Status
}

func (f *fakeRefresher) Run(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	err := f.err
	if err == nil && f.valid != "" && f.id != f.valid {
		err = ics.ErrNotFound
	}
	f.status.LastError = err
	if err == nil {
		f.status.EventCount = 1
	}
	return err
}

func (f *fakeRefresher) Identifier() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.id
}

func (f *fakeRefresher) Switch(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	err := f.err
	if err == nil && f.valid != "" && id != f.valid {
		err = ics.ErrNotFound
	}
	if err != nil {
		return err
	}
	f.id = id
	f.status.LastError = nil
	f.status.EventCount = 1
	return nil
}

func (f *fakeRefresher) Status() refresh.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func newTestServer(t *testing.T, opts Options, r Refresher) (*Server, *viewer.Viewer) {
	t.Helper()
	v := viewer.New(viewer.Options{Now: func() time.Time { return monday10 }})
	v.SetTimetable(sampleTimetable())
	return NewServer(v, r, opts), v
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, Options{}, nil)
	rec := do(t, s.Handler(), http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestBasicAuth(t *testing.T) {
	s, _ := newTestServer(t, Options{BasicAuth: &config.BasicAuthConfig{Username: "u", Password: "p"}}, nil)
	h := s.Handler()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health").Code)

	rec := do(t, h, http.MethodGet, "/week")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodGet, "/week", nil)
	req.SetBasicAuth("u", "p")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/week", nil)
	req.SetBasicAuth("u", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBasicAuthPasswordHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)
	s, _ := newTestServer(t, Options{BasicAuth: &config.BasicAuthConfig{Username: "u", PasswordHash: string(hash)}}, nil)
	h := s.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/week", nil)
	req.SetBasicAuth("u", "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/week", nil)
	req.SetBasicAuth("u", string(hash))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBasicAuthDisabledWithEmptyPassword(t *testing.T) {
	s, _ := newTestServer(t, Options{BasicAuth: &config.BasicAuthConfig{Username: "u"}}, nil)
	assert.Equal(t, http.StatusOK, do(t, s.Handler(), http.MethodGet, "/week").Code)
}

func TestWeekPage(t *testing.T) {
	s, _ := newTestServer(t, Options{}, nil)

	for _, path := range []string{"/", "/week"} {
		rec := do(t, s.Handler(), http.MethodGet, path)
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")

		body := rec.Body.String()
		assert.Contains(t, body, `data-ready="true"`)
		assert.Contains(t, body, "2024-W05")
		assert.Contains(t, body, "Dummy module")
		assert.Contains(t, body, "09:00-10:30")
		assert.Contains(t, body, "01-29")
		assert.Contains(t, body, "Pir")
		assert.Contains(t, body, `class="abs card"`)
		assert.Contains(t, body, `class="abs marker"`)
		assert.Contains(t, body, "/assets/break.png")
		// First navigable week: no backwards link.
		assert.NotContains(t, body, "week=2024-W04")
		assert.Contains(t, body, "week=2024-W06")
		assert.NotContains(t, body, "Show this week by default")
	}
}

func TestWeekPageUnknownPath(t *testing.T) {
	s, _ := newTestServer(t, Options{}, nil)
	assert.Equal(t, http.StatusNotFound, do(t, s.Handler(), http.MethodGet, "/nope").Code)
}

func TestWeekPageNotLoaded(t *testing.T) {
	v := viewer.New(viewer.Options{Now: func() time.Time { return monday10 }})
	r := &fakeRefresher{status: refresh.Status{LastError: ics.ErrNotFound}}
	s := NewServer(v, r, Options{})

	rec := do(t, s.Handler(), http.MethodGet, "/week")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Timetable not loaded: invalid or unreachable identifier")
	assert.Contains(t, body, `data-ready="true"`)
	assert.Contains(t, body, `action="/api/identifier"`)
}

func TestIdentifierJSON(t *testing.T) {
	r := &fakeRefresher{valid: "E1810", id: "OLD"}
	var saved []string
	s, _ := newTestServer(t, Options{SaveIdentifier: func(id string) error {
		saved = append(saved, id)
		return nil
	}}, r)
	h := s.Handler()

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/identifier", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := post(`{"identifier":"BAD"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid or unreachable identifier")
	assert.Equal(t, "OLD", r.Identifier(), "rejected identifier is not kept")
	assert.NoError(t, r.Status().LastError)
	assert.NotContains(t, do(t, h, http.MethodGet, "/week").Body.String(), "Last refresh failed")
	assert.Empty(t, saved)

	rec = post(`{"identifier":" E1810 "}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "E1810", r.Identifier())
	assert.Equal(t, []string{"E1810"}, saved)

	assert.Equal(t, http.StatusBadRequest, post(`{"identifier":""}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(`not json`).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/api/identifier").Code)
}

func TestIdentifierForm(t *testing.T) {
	r := &fakeRefresher{valid: "E1810"}
	s, _ := newTestServer(t, Options{}, r)

	req := httptest.NewRequest(http.MethodPost, "/api/identifier", strings.NewReader("identifier=E1810"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/week", rec.Header().Get("Location"))
	assert.Equal(t, "E1810", r.Identifier())
}

func TestDescribeFetchError(t *testing.T) {
	assert.Equal(t, "the identifier is valid but has no scheduled events", DescribeFetchError(ics.ErrEmptyTimetable))
	assert.Equal(t, "invalid or unreachable identifier", DescribeFetchError(ics.ErrNotFound))
	assert.Equal(t, "enter a timetable identifier", DescribeFetchError(refresh.ErrNoIdentifier))
}

func postForm(t *testing.T, h http.Handler, target, form string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestBrowsingDoesNotMoveShownWeek(t *testing.T) {
	s, v := newTestServer(t, Options{}, nil)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/week?week=2024-W06")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<title>KTU timetable 2024-W06</title>")
	assert.Contains(t, body, "week=2024-W05")
	assert.Contains(t, body, "week=2024-W07")
	assert.NotContains(t, body, "Dummy module")
	assert.Contains(t, body, "Show this week by default")

	rec = do(t, h, http.MethodGet, "/week?shift=3")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<title>KTU timetable 2024-W08</title>")

	// Past weeks are clamped.
	rec = do(t, h, http.MethodGet, "/?week=2023-W40")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<title>KTU timetable 2024-W05</title>")

	assert.Equal(t, model.IsoWeek{Year: 2024, Week: 5}, v.Week())

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/week?week=2024-W99").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/week?shift=abc").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodDelete, "/week").Code)
}

func TestPostMovesShownWeek(t *testing.T) {
	s, v := newTestServer(t, Options{}, nil)
	h := s.Handler()

	rec := postForm(t, h, "/week", "shift=1")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/week", rec.Header().Get("Location"))
	assert.Equal(t, model.IsoWeek{Year: 2024, Week: 6}, v.Week())
	assert.Empty(t, v.Events())

	// Backwards past the current week is clamped.
	postForm(t, h, "/week", "shift=-5")
	assert.Equal(t, model.IsoWeek{Year: 2024, Week: 5}, v.Week())

	postForm(t, h, "/week", "week=2024-W09")
	assert.Equal(t, model.IsoWeek{Year: 2024, Week: 9}, v.Week())
	assert.Contains(t, do(t, h, http.MethodGet, "/").Body.String(), "<title>KTU timetable 2024-W09</title>")

	rec = postForm(t, h, "/", "reset=1")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	assert.Equal(t, model.IsoWeek{Year: 2024, Week: 5}, v.Week())

	assert.Equal(t, http.StatusBadRequest, postForm(t, h, "/week", "shift=abc").Code)
	assert.Equal(t, http.StatusBadRequest, postForm(t, h, "/week", "week=nope").Code)
}

func TestWeekJSON(t *testing.T) {
	r := &fakeRefresher{}
	s, _ := newTestServer(t, Options{}, r)

	rec := do(t, s.Handler(), http.MethodGet, "/api/week")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	var resp weekResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2024-W05", resp.Week)
	assert.Equal(t, "2024-01-29", resp.Monday)
	assert.Equal(t, "2024-W05", resp.First)
	assert.Equal(t, "2025-W01", resp.Last)
	assert.True(t, resp.Loaded)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "Dummy module", resp.Events[0].ModuleName)
	assert.Equal(t, "09:00", resp.Events[0].Start)
	assert.Equal(t, "yellow", resp.Events[0].Category)
	require.Len(t, resp.Cards, 1)
	assert.Equal(t, "#fbb829", resp.Cards[0].Background)
	require.NotNil(t, resp.Today)
	assert.Equal(t, 0, *resp.Today)
	assert.NotNil(t, resp.Marker)
	assert.NotNil(t, resp.Refresh)
}

func TestWeekJSONShift(t *testing.T) {
	s, v := newTestServer(t, Options{}, nil)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/api/week?shift=2")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp weekResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2024-W07", resp.Week)
	assert.Empty(t, resp.Events)
	assert.Nil(t, resp.Today)
	assert.Equal(t, model.IsoWeek{Year: 2024, Week: 5}, v.Week(), "GET does not move the shown week")

	rec = postForm(t, h, "/api/week", "shift=2")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2024-W07", resp.Week)
	assert.Equal(t, model.IsoWeek{Year: 2024, Week: 7}, v.Week())

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/week?shift=x").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/week?week=x").Code)
}

func TestRefreshEndpoint(t *testing.T) {
	r := &fakeRefresher{}
	s, _ := newTestServer(t, Options{}, r)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/api/refresh")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, 0, r.calls)

	rec = do(t, h, http.MethodPost, "/api/refresh")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, r.calls)

	r.err = ics.ErrNotFound
	rec = do(t, h, http.MethodPost, "/api/refresh")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), ics.ErrNotFound.Error())

	r.err = refresh.ErrNoIdentifier
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/api/refresh").Code)
}

func TestRefreshEndpointWithoutRefresher(t *testing.T) {
	s, _ := newTestServer(t, Options{}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, s.Handler(), http.MethodPost, "/api/refresh").Code)
}

func TestWeekPNG(t *testing.T) {
	s, _ := newTestServer(t, Options{}, nil)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/week.png?w=500&h=300")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	img, err := png.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 500, img.Bounds().Dx())
	assert.Equal(t, 300, img.Bounds().Dy())

	// Served from cache the second time.
	again := do(t, h, http.MethodGet, "/week.png?w=500&h=300")
	require.Equal(t, http.StatusOK, again.Code)
	require.NotNil(t, s.pngCache)

	rec = do(t, h, http.MethodGet, "/week.png")
	img, err = png.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, DefaultWidth, img.Bounds().Dx())
	assert.Equal(t, DefaultHeight, img.Bounds().Dy())

	rec = do(t, h, http.MethodGet, "/week.png?week=2024-W06&w=200&h=100")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, s.pngCache.key, "2024-W06")
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/week.png?week=bad").Code)
}

func TestBreakTexture(t *testing.T) {
	s, _ := newTestServer(t, Options{}, nil)
	rec := do(t, s.Handler(), http.MethodGet, "/assets/break.png")
	require.Equal(t, http.StatusOK, rec.Code)
	img, err := png.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())
}

func TestPreview(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "preview.png")

	s, _ := newTestServer(t, Options{PreviewPath: path}, nil)
	assert.Equal(t, http.StatusNotFound, do(t, s.Handler(), http.MethodGet, "/preview.png").Code)

	require.NoError(t, os.WriteFile(path, []byte("\x89PNG fake"), 0o644))
	rec := do(t, s.Handler(), http.MethodGet, "/preview.png")
	assert.Equal(t, http.StatusOK, rec.Code)

	s, _ = newTestServer(t, Options{}, nil)
	assert.Equal(t, http.StatusNotFound, do(t, s.Handler(), http.MethodGet, "/preview.png").Code)
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	s, _ := newTestServer(t, Options{}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestHTTPServerEndToEnd(t *testing.T) {
	s, _ := newTestServer(t, Options{}, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/week")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "Dummy module"))
}
