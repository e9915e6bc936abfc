package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"ktutimetable/internal/capture"
	"ktutimetable/internal/config"
	"ktutimetable/internal/ics"
	"ktutimetable/internal/layout"
	appLog "ktutimetable/internal/log"
	"ktutimetable/internal/model"
	"ktutimetable/internal/raster"
	"ktutimetable/internal/refresh"
	"ktutimetable/internal/viewer"
	"ktutimetable/internal/web"
)

const fetchTimeout = 30 * time.Second

func main() {
	// A missing .env file is fine.
	_ = godotenv.Load()

	if err := newApp().Run(os.Args); err != nil {
		appLog.Error("ktutimetable failed", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "ktutimetable",
		Usage: "Show a KTU timetable week by week.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to the config file (default: per-user config dir)", EnvVars: []string{"KTU_TIMETABLE_CONFIG"}},
			&cli.StringFlag{Name: "id", Usage: "timetable identifier (vidko); overrides the saved one", EnvVars: []string{"KTU_TIMETABLE_ID"}},
			&cli.StringFlag{Name: "ics-file", Usage: "read the timetable from a local .ics file instead of the KTU endpoint ({id} is substituted)", EnvVars: []string{"KTU_TIMETABLE_FILE"}},
			&cli.StringFlag{Name: "listen", Usage: "HTTP listen address (overrides config)"},
			&cli.IntFlag{Name: "week-shift", Usage: "weeks to move forward from the current week"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error (overrides config)", EnvVars: []string{"LOG_LEVEL"}},
		},
		Action: runServe,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Serve the week view over HTTP and refresh it on a schedule (default).",
				Action: runServe,
			},
			{
				Name:   "show",
				Usage:  "Fetch the timetable once and print the shown week.",
				Action: runShow,
			},
			{
				Name:  "snapshot",
				Usage: "Fetch the timetable once and write the shown week as PNG.",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "PNG path (default: preview.png next to the config file)"},
					&cli.BoolFlag{Name: "chromium", Usage: "capture the HTML view with headless Chromium instead of the built-in rasterizer"},
					&cli.IntFlag{Name: "width", Value: web.DefaultWidth},
					&cli.IntFlag{Name: "height", Value: web.DefaultHeight},
				},
				Action: runSnapshot,
			},
			{
				Name:      "set-id",
				Usage:     "Verify and save the timetable identifier.",
				ArgsUsage: "<identifier>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "no-verify", Usage: "save without fetching the timetable first"},
				},
				Action: runSetID,
			},
			{
				Name:      "hash-password",
				Usage:     "Print a bcrypt hash for basic_auth.password_hash.",
				ArgsUsage: "<password>",
				Action:    runHashPassword,
			},
		},
	}
}

// env is the state shared by all commands: the loaded config, where it
// lives, and the identifier in effect.
type env struct {
	store      *config.FileStore
	identifier string
	// fromFlag is set when --id overrides the saved identifier.
	fromFlag bool
	icsFile  string
	closeLog func()

	mu  sync.Mutex
	cfg *config.Config
}

func setup(c *cli.Context) (*env, error) {
	store, err := config.NewFileStore(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	cfg, loadErr := config.LoadOrDefault(store)

	level := cfg.Log.Level
	if c.IsSet("log-level") {
		level = c.String("log-level")
	}
	closeLog := appLog.Setup(appLog.Options{
		Level:      appLog.ParseLevel(level),
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	var ferr *config.FileError
	var perr *config.ParseError
	switch {
	case loadErr == nil:
	case errors.Is(loadErr, config.ErrNotFound):
		appLog.Info("no saved config, using defaults", "path", store.Path())
	case errors.As(loadErr, &ferr), errors.As(loadErr, &perr):
		appLog.Warn("config unusable, using defaults", "path", store.Path(), "error", loadErr)
	}

	if c.IsSet("listen") {
		cfg.Listen = c.String("listen")
	}

	e := &env{store: store, cfg: cfg, closeLog: closeLog, identifier: cfg.IdentifierValue(), icsFile: c.String("ics-file")}
	if id := strings.TrimSpace(c.String("id")); id != "" {
		e.fromFlag = id != e.identifier
		e.identifier = id
	}

	appLog.Info("effective config",
		"config", store.Path(),
		"identifier_set", e.identifier != "",
		"listen", cfg.Listen,
		"refresh", cfg.RefreshCron,
		"theme", cfg.Theme,
		"max_weeks_ahead", cfg.MaxWeeksAhead,
	)
	return e, nil
}

// saveIdentifier persists id into the config file.
func (e *env) saveIdentifier(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.SetIdentifier(id)
	if err := e.store.Save(e.cfg); err != nil {
		return err
	}
	appLog.Info("identifier saved", "path", e.store.Path())
	return nil
}

// rememberIdentifier saves an identifier given with --id once it has been
// shown to work.
func (e *env) rememberIdentifier() {
	if !e.fromFlag {
		return
	}
	if err := e.saveIdentifier(e.identifier); err != nil {
		appLog.Error("failed to save identifier", err)
		return
	}
	e.fromFlag = false
}

func (e *env) getter() ics.Getter {
	parse := ics.ParseOptions{RecurrenceWeeks: e.cfg.RecurrenceWeeks}
	if e.icsFile != "" {
		return ics.FileGetter{Path: e.icsFile, Parse: parse}
	}
	return ics.NewClient(ics.ClientConfig{
		URLTemplate: e.cfg.URLTemplate,
		CacheDir:    e.cfg.CacheDir,
		Parse:       parse,
	})
}

func (e *env) newViewer(c *cli.Context) *viewer.Viewer {
	v := viewer.New(viewer.Options{MaxWeeksAhead: e.cfg.MaxWeeksAhead})
	if n := c.Int("week-shift"); n != 0 {
		v.Shift(n)
	}
	return v
}

func (e *env) dayNames() [layout.Days]string {
	var names [layout.Days]string
	if len(e.cfg.DayNames) == layout.Days {
		copy(names[:], e.cfg.DayNames)
	}
	return names
}

func (e *env) previewPath() string {
	return filepath.Join(filepath.Dir(e.store.Path()), "preview.png")
}

func (e *env) webOptions() web.Options {
	return web.Options{
		Theme:          layout.ThemeByName(e.cfg.Theme),
		DayNames:       e.dayNames(),
		PreviewPath:    e.previewPath(),
		BasicAuth:      e.cfg.BasicAuth,
		SaveIdentifier: e.saveIdentifier,
	}
}

// fetch loads the timetable once for the one-shot commands.
func (e *env) fetch(ctx context.Context) (*model.Timetable, error) {
	if e.identifier == "" {
		return nil, errors.New("no timetable identifier: pass --id or run set-id")
	}
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	tt, err := e.getter().Fetch(ctx, e.identifier)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", web.DescribeFetchError(err), err)
	}
	e.rememberIdentifier()
	return tt, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			appLog.Info("signal received, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// savingSink hands timetables to the viewer and saves a --id identifier
// after its first successful load.
type savingSink struct {
	*viewer.Viewer
	env  *env
	once sync.Once
}

func (s *savingSink) SetTimetable(t *model.Timetable) {
	s.Viewer.SetTimetable(t)
	s.once.Do(s.env.rememberIdentifier)
}

func runServe(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.closeLog()

	ctx, cancel := signalContext(c.Context)
	defer cancel()

	v := e.newViewer(c)
	r := refresh.New(e.getter(), &savingSink{Viewer: v, env: e}, e.identifier, fetchTimeout)
	if e.identifier == "" {
		appLog.Warn("no timetable identifier configured; enter one in the web view or run set-id")
	}
	if err := r.Start(ctx, e.cfg.RefreshCron); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", e.cfg.RefreshCron, err)
	}

	srv := web.NewServer(v, r, e.webOptions())

	// The scheduler lives as long as the HTTP server; a failing server
	// (e.g. address in use) stops it.
	g, lifetime := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(lifetime, e.cfg.Listen); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-lifetime.Done()
		r.Stop()
		return nil
	})
	err = g.Wait()
	appLog.Info("ktutimetable exiting")
	return err
}

func runHashPassword(c *cli.Context) error {
	password := c.Args().First()
	if password == "" {
		return errors.New("usage: hash-password <password>")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, string(hash))
	return nil
}

func runShow(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.closeLog()

	tt, err := e.fetch(c.Context)
	if err != nil {
		return err
	}
	v := e.newViewer(c)
	v.SetTimetable(tt)

	snap := v.Snapshot()
	l := layout.Compute(snap.Events, snap.Week, snap.Now, layout.Params{
		Width:    web.DefaultWidth,
		Height:   web.DefaultHeight,
		DayNames: e.dayNames(),
	})
	return printWeek(c.App.Writer, l)
}

// printWeek writes one line per card, in day then start time order.
func printWeek(w io.Writer, l layout.Layout) error {
	monday := l.Week.Monday()
	fmt.Fprintf(w, "%s (%s .. %s)\n", l.Week, monday.Format("2006-01-02"), l.Week.Day(layout.Days-1).Format("2006-01-02"))
	if len(l.Cards) == 0 {
		fmt.Fprintln(w, "no events")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, card := range l.Cards {
		e := card.Event
		fmt.Fprintf(tw, "%s %s\t%s\t%s\t%s\t%s\n",
			l.DayLabels[card.Day].Text,
			l.DateLabels[card.Day].Text,
			card.TimeLabel,
			e.Title(),
			e.Location,
			e.Category,
		)
	}
	return tw.Flush()
}

func runSnapshot(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.closeLog()

	out := c.String("output")
	if out == "" {
		out = e.previewPath()
	}
	width, height := c.Int("width"), c.Int("height")

	tt, err := e.fetch(c.Context)
	if err != nil {
		return err
	}
	v := e.newViewer(c)
	v.SetTimetable(tt)

	if c.Bool("chromium") {
		return captureWithChromium(c.Context, e, v, out, width, height)
	}

	snap := v.Snapshot()
	l := layout.Compute(snap.Events, snap.Week, snap.Now, layout.Params{
		Width:        float64(width),
		Height:       float64(height),
		Theme:        layout.ThemeByName(e.cfg.Theme),
		DayNames:     e.dayNames(),
		BreakTexture: raster.TextureSize(),
	})

	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := raster.EncodePNG(f, l, width, height); err != nil {
		f.Close()
		return fmt.Errorf("render snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	appLog.Info("week snapshot written", "path", out, "week", snap.Week.String())
	return nil
}

// captureWithChromium serves the week page on a loopback port for the
// duration of one headless Chromium capture.
func captureWithChromium(ctx context.Context, e *env, v *viewer.Viewer, out string, width, height int) error {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	opts := e.webOptions()
	opts.Width, opts.Height = width, height
	opts.BasicAuth = nil
	srv := &http.Server{Handler: web.NewServer(v, nil, opts).Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	return capture.WeekPNG(ctx, capture.Options{
		URL:        "http://" + ln.Addr().String() + "/week",
		OutputPath: out,
		Width:      width,
		Height:     height,
	})
}

func runSetID(c *cli.Context) error {
	id := strings.TrimSpace(c.Args().First())
	if id == "" {
		return errors.New("usage: set-id <identifier>")
	}

	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.closeLog()

	e.identifier = id
	if !c.Bool("no-verify") {
		e.fromFlag = false
		tt, err := e.fetch(c.Context)
		if err != nil {
			return err
		}
		appLog.Info("identifier verified", "events", tt.Len())
	}
	if err := e.saveIdentifier(id); err != nil {
		return fmt.Errorf("save identifier: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "saved identifier to %s\n", e.store.Path())
	return nil
}
