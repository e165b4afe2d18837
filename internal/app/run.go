// Package app wires the pipeline stages together: acquire a session,
// fetch the timetable, normalize, serialize, publish. It owns the one
// feedback edge in the design — re-authentication when the API rejects
// the session mid-run.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"

	"untisfeed/internal/browser"
	"untisfeed/internal/config"
	"untisfeed/internal/feed"
	appLog "untisfeed/internal/log"
	"untisfeed/internal/metrics"
	"untisfeed/internal/model"
	"untisfeed/internal/normalize"
	"untisfeed/internal/publish"
	"untisfeed/internal/session"
	"untisfeed/internal/untis"
	"untisfeed/internal/web"
)

// runTimeout bounds one full pipeline cycle in daemon mode. Generous:
// a scripted browser login alone can take over a minute.
const runTimeout = 5 * time.Minute

// Runner executes pipeline cycles against one configuration.
type Runner struct {
	cfg      *config.Config
	loc      *time.Location
	provider *session.Provider
	client   *untis.Client
	uploader *publish.Uploader
	now      func() time.Time
}

// Option overrides a Runner collaborator, mainly for tests.
type Option func(*Runner)

func WithProvider(p *session.Provider) Option {
	return func(r *Runner) { r.provider = p }
}

func WithClient(c *untis.Client) Option {
	return func(r *Runner) { r.client = c }
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// NewRunner builds a Runner from validated configuration.
func NewRunner(cfg *config.Config, opts ...Option) (*Runner, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	r := &Runner{
		cfg: cfg,
		loc: loc,
		now: time.Now,
	}

	var automator session.LoginAutomator
	if cfg.Token == "" && cfg.LoginMode == "sso" {
		automator = &browser.Automator{
			Server:      cfg.Server,
			School:      cfg.School,
			ButtonLabel: cfg.SSOButton,
			Headless:    cfg.Headless,
		}
	}

	r.provider = session.NewProvider(session.Options{
		Server:      cfg.Server,
		School:      cfg.School,
		Token:       cfg.Token,
		Cookies:     cfg.Cookies,
		Credentials: session.Credentials{Username: cfg.Username, Password: cfg.Password},
		Automator:   automator,
	})
	r.client = untis.NewClient(cfg.Server)

	if cfg.Upload != nil {
		up, err := publish.NewUploader(cfg.Upload)
		if err != nil {
			return nil, err
		}
		r.uploader = up
	}

	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// RunOnce executes one full pipeline cycle. Session acquisition
// completes before any timetable request; windows are fetched
// sequentially; the output file is only replaced after a fully
// successful serialization.
func (r *Runner) RunOnce(ctx context.Context) error {
	appLog.Info("run starting", "server", r.cfg.Server, "weeks", r.cfg.Weeks)

	sess, err := r.provider.Acquire(ctx)
	if err != nil {
		metrics.RecordRunError("auth")
		return err
	}
	defer func() { r.provider.Logout(ctx, sess) }()

	records, err := r.fetch(ctx, sess)
	if err != nil {
		if errors.Is(err, untis.ErrAuthExpired) && r.provider.CanReacquire() {
			// The one feedback edge: re-authenticate once and refetch.
			appLog.Warn("session expired mid-run, re-authenticating")
			sess, err = r.provider.Acquire(ctx)
			if err != nil {
				metrics.RecordRunError("auth")
				return err
			}
			records, err = r.fetch(ctx, sess)
		}
		if err != nil {
			metrics.RecordRunError("fetch")
			return err
		}
	}
	metrics.SetLessonsFetched(len(records))

	generated := r.now()
	if err := r.writeFeed(records, sess, generated, r.cfg.Output, "", "calendar.ics"); err != nil {
		return err
	}

	if r.cfg.ExamsOutput != "" {
		exams := filterType(records, model.TypeExam)
		if err := r.writeFeed(exams, sess, generated, r.cfg.ExamsOutput, "Exams", "exams.ics"); err != nil {
			return err
		}
	}

	metrics.RecordRun()
	appLog.Info("run completed", "lessons", len(records))
	return nil
}

// fetch resolves the school year and drains the record stream.
func (r *Runner) fetch(ctx context.Context, sess session.Session) ([]model.LessonRecord, error) {
	sess, err := r.client.ResolveSchoolYear(ctx, sess)
	if err != nil {
		return nil, err
	}
	return untis.Collect(r.client.FetchRange(ctx, sess, r.cfg.Weeks))
}

// writeFeed normalizes, renders, publishes and optionally uploads one
// feed document.
func (r *Runner) writeFeed(records []model.LessonRecord, sess session.Session, generated time.Time, path, nameSuffix, objectName string) error {
	events, err := normalize.Normalize(records, normalize.Options{
		Location: r.loc,
		Now:      generated,
	})
	if err != nil {
		metrics.RecordRunError("normalize")
		return err
	}

	name := "WebUntis"
	if sess.Username != "" {
		name += " - " + sess.Username
	}
	if nameSuffix != "" {
		name += " - " + nameSuffix
	}

	data := feed.Render(events, feed.WriteOptions{
		CalendarName: name,
		Timezone:     r.cfg.Timezone,
		Generated:    generated,
	})

	if err := feed.Publish(path, data); err != nil {
		metrics.RecordRunError("publish")
		return err
	}
	metrics.SetEventsPublished(len(events))

	if r.uploader != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := r.uploader.Upload(ctx, objectName, data); err != nil {
			metrics.RecordRunError("upload")
			return err
		}
	}
	return nil
}

func filterType(records []model.LessonRecord, typ string) []model.LessonRecord {
	var out []model.LessonRecord
	for _, rec := range records {
		if rec.Type == typ {
			out = append(out, rec)
		}
	}
	return out
}

// RunDaemon runs an initial cycle, then refreshes on the configured
// cron schedule while serving the feed over HTTP. It returns when ctx
// is canceled.
func (r *Runner) RunDaemon(ctx context.Context) error {
	if err := r.RunOnce(ctx); err != nil {
		// The daemon keeps serving the last good feed; the next tick
		// retries.
		appLog.Error("initial run failed", err)
	}

	c := cron.New()
	_, err := c.AddFunc(r.cfg.RefreshCron, func() {
		runCtx, cancel := context.WithTimeout(ctx, runTimeout)
		defer cancel()
		if err := r.RunOnce(runCtx); err != nil {
			appLog.Error("scheduled run failed", err)
		}
	})
	if err != nil {
		return fmt.Errorf("%w: bad refresh schedule %q: %v", config.ErrConfig, r.cfg.RefreshCron, err)
	}
	c.Start()
	defer c.Stop()

	srv := &http.Server{
		Addr:    r.cfg.Listen,
		Handler: web.NewServer(r.cfg).Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+r.cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
