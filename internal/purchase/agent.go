package purchase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"flash-buyer/internal/action"
	"flash-buyer/internal/browser"
	"flash-buyer/internal/session"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrBusy is returned by Run while another run holds the session.
var ErrBusy = errors.New("a purchase run is already in progress")

var errStageFailed = errors.New("stage failed")

const releaseTimeout = 10 * time.Second

// ScreenshotSaver persists failure screenshots and returns where they went.
type ScreenshotSaver interface {
	Save(runID, tag string, png []byte) (string, error)
}

// Event reports pipeline progress to an observer. Status "session" carries a
// browser session state change in Detail.
type Event struct {
	RunID   string    `json:"run_id"`
	Stage   Stage     `json:"stage"`
	Status  string    `json:"status"`
	Attempt int       `json:"attempt,omitempty"`
	Detail  string    `json:"detail,omitempty"`
	Time    time.Time `json:"time"`
}

// StageResult is one reached or failed stage.
type StageResult struct {
	Stage     Stage  `json:"stage"`
	Attempts  int    `json:"attempts"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// AttemptRecord is one strategy tried by the action executor.
type AttemptRecord struct {
	Strategy string `json:"strategy"`
	Error    string `json:"error,omitempty"`
}

// ActionRecord is the successful interaction of a stage.
type ActionRecord struct {
	Stage     Stage           `json:"stage"`
	Kind      string          `json:"kind"`
	Strategy  string          `json:"strategy"`
	Attempts  []AttemptRecord `json:"attempts"`
	Confirmed bool            `json:"confirmed"`
}

// Failures counts strategies that failed before the successful one.
func (a *ActionRecord) Failures() int {
	n := 0
	for _, at := range a.Attempts {
		if at.Error != "" {
			n++
		}
	}
	return n
}

// Report is the detailed outcome of one run. Stage is the last stage
// reached, or Failed with FailedAt and Reason set.
type Report struct {
	RunID        string         `json:"run_id"`
	Product      string         `json:"product"`
	Mode         string         `json:"mode"`
	Success      bool           `json:"success"`
	Stage        Stage          `json:"stage"`
	FailedAt     Stage          `json:"failed_at"`
	Reason       string         `json:"reason,omitempty"`
	ProductTitle string         `json:"product_title,omitempty"`
	Stages       []StageResult  `json:"stages"`
	Actions      []ActionRecord `json:"actions,omitempty"`
	Recoveries   int            `json:"recoveries"`
	Screenshots  []string       `json:"screenshots,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	Elapsed      time.Duration  `json:"-"`
	ElapsedMS    int64          `json:"elapsed_ms"`
}

func (r *Report) action(stage Stage) *ActionRecord {
	for i := range r.Actions {
		if r.Actions[i].Stage == stage {
			return &r.Actions[i]
		}
	}
	return nil
}

// Action returns the recorded interaction for stage, or nil.
func (r *Report) Action(stage Stage) *ActionRecord { return r.action(stage) }

// Options configures a Buyer.
type Options struct {
	BaseURL string
	// Reuse prefers reattaching to a prepared browser.
	Reuse       bool
	Auth        Authenticator
	Screenshots ScreenshotSaver
	Observer    func(Event)
}

// Status is a snapshot for the control surface.
type Status struct {
	Running    bool    `json:"running"`
	Session    string  `json:"session"`
	LastReport *Report `json:"last_report,omitempty"`
}

// Buyer runs purchase attempts, one at a time.
type Buyer struct {
	connector browser.Connector
	opts      Options
	log       *zap.Logger

	mu      sync.Mutex
	running bool
	monitor *session.Monitor
	last    *Report
}

func NewBuyer(connector browser.Connector, opts Options, log *zap.Logger) *Buyer {
	if opts.Auth == nil {
		opts.Auth = &FormLogin{}
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Buyer{connector: connector, opts: opts, log: log}
}

// RunFast runs the speed-optimized pipeline and reports success and elapsed
// time. Details go to the log.
func (b *Buyer) RunFast(ctx context.Context, product string) (bool, time.Duration) {
	return b.outcome(ctx, product, Fast)
}

// RunSafe runs the reliability-optimized pipeline, which ends on the checkout
// page without paying.
func (b *Buyer) RunSafe(ctx context.Context, product string) (bool, time.Duration) {
	return b.outcome(ctx, product, Safe)
}

func (b *Buyer) outcome(ctx context.Context, product string, profile TimingProfile) (bool, time.Duration) {
	start := time.Now()
	report, err := b.Run(ctx, product, profile)
	elapsed := time.Since(start)
	if err != nil {
		b.log.Error("run aborted", zap.String("mode", profile.Name), zap.Error(err))
		return false, elapsed
	}
	return report.Success, elapsed
}

// Run executes one purchase attempt. Every failure is described by the
// report; the error is non-nil only when the session could not be recovered
// (session.ErrRecoveryFailed) or another run is active (ErrBusy).
func (b *Buyer) Run(ctx context.Context, product string, profile TimingProfile) (*Report, error) {
	if !b.reserve() {
		return nil, ErrBusy
	}
	defer b.releaseSlot()
	return b.run(ctx, uuid.NewString(), product, profile)
}

// Start reserves the buyer and runs the attempt in the background. It returns
// the run ID at once, or ErrBusy. done, if not nil, receives the outcome.
func (b *Buyer) Start(ctx context.Context, product string, profile TimingProfile, done func(*Report, error)) (string, error) {
	if !b.reserve() {
		return "", ErrBusy
	}
	runID := uuid.NewString()
	go func() {
		defer b.releaseSlot()
		report, err := b.run(ctx, runID, product, profile)
		if done != nil {
			done(report, err)
		}
	}()
	return runID, nil
}

func (b *Buyer) reserve() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return false
	}
	b.running = true
	return true
}

func (b *Buyer) releaseSlot() {
	b.mu.Lock()
	b.running = false
	b.mu.Unlock()
}

func (b *Buyer) run(ctx context.Context, runID, product string, profile TimingProfile) (*Report, error) {
	r := &runner{
		buyer:   b,
		product: strings.TrimSpace(product),
		plan:    NewPlan(profile),
		auth:    b.opts.Auth,
		log:     b.log.With(zap.String("run_id", runID), zap.String("mode", profile.Name)),
		report: &Report{
			RunID:     runID,
			Product:   strings.TrimSpace(product),
			Mode:      profile.Name,
			Stage:     Init,
			StartedAt: time.Now(),
		},
	}

	err := r.run(ctx)

	r.report.Elapsed = time.Since(r.report.StartedAt)
	r.report.ElapsedMS = r.report.Elapsed.Milliseconds()
	b.mu.Lock()
	b.last = r.report
	b.mu.Unlock()

	if r.report.Success {
		r.log.Info("run succeeded", zap.Stringer("stage", r.report.Stage), zap.Duration("elapsed", r.report.Elapsed))
	} else {
		r.log.Warn("run failed", zap.Stringer("stage", r.report.FailedAt), zap.String("reason", r.report.Reason), zap.Duration("elapsed", r.report.Elapsed))
	}
	r.emit(r.report.Stage, "done", 0, r.report.Reason)
	return r.report, err
}

func (b *Buyer) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := Status{Running: b.running, Session: session.Detached.String(), LastReport: b.last}
	if b.monitor != nil {
		st.Session = b.monitor.State().String()
	}
	return st
}

// ErrNoSession is returned when no run currently holds a browser.
var ErrNoSession = errors.New("no active browser session")

func (b *Buyer) liveSession() (browser.Session, error) {
	b.mu.Lock()
	m := b.monitor
	b.mu.Unlock()
	if m == nil {
		return nil, ErrNoSession
	}
	s := m.Session()
	if s == nil {
		return nil, ErrNoSession
	}
	return s, nil
}

// Screenshot captures the page of the active run.
func (b *Buyer) Screenshot(ctx context.Context) ([]byte, error) {
	s, err := b.liveSession()
	if err != nil {
		return nil, err
	}
	return s.Screenshot(ctx)
}

// CurrentLocation reports the URL of the active run's page.
func (b *Buyer) CurrentLocation(ctx context.Context) (string, error) {
	s, err := b.liveSession()
	if err != nil {
		return "", err
	}
	return s.CurrentLocation(ctx)
}

// runner holds the state of a single run.
type runner struct {
	buyer      *Buyer
	product    string
	plan       *Plan
	auth       Authenticator
	monitor    *session.Monitor
	report     *Report
	resultsURL string
	log        *zap.Logger
}

func (r *runner) run(ctx context.Context) error {
	if r.product == "" {
		r.fail(ctx, Init, "", 0, errors.New("product name is empty"))
		return nil
	}

	profile := r.plan.Profile
	r.monitor = session.NewMonitor(r.buyer.connector, session.Options{
		Reuse:             r.buyer.opts.Reuse,
		LandingURL:        r.buyer.opts.BaseURL,
		ProbeTimeout:      profile.ProbeTimeout,
		NavigationTimeout: profile.NavigationTimeout,
	}, r.log.Named("session"))
	r.monitor.OnTransition = func(_, to session.State) {
		r.emit(r.report.Stage, "session", 0, to.String())
	}

	r.buyer.mu.Lock()
	r.buyer.monitor = r.monitor
	r.buyer.mu.Unlock()

	r.log.Info("run started", zap.String("product", r.product), zap.Stringer("target", r.plan.Final()))
	r.emit(Init, "started", 1, r.product)
	if err := r.monitor.Connect(ctx); err != nil {
		r.fail(ctx, Init, "", 1, fmt.Errorf("connect browser: %w", err))
		return nil
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := r.monitor.Release(rctx); err != nil {
			r.log.Warn("failed to release browser", zap.Error(err))
		}
	}()

	// A stale reattached tab is replaced once before the run gives up.
	err := r.monitor.Guard(ctx, func(ctx context.Context, s browser.Session) error {
		return r.env(s).navigate(ctx, r.buyer.opts.BaseURL)
	})
	if err != nil {
		r.fail(ctx, Init, "", 1, fmt.Errorf("open storefront: %w", err))
		if errors.Is(err, session.ErrRecoveryFailed) {
			return err
		}
		return nil
	}

	for _, step := range r.plan.Steps {
		if err := r.runStep(ctx, step); err != nil {
			if errors.Is(err, session.ErrRecoveryFailed) {
				return err
			}
			return nil
		}
	}

	r.report.Success = r.report.Stage == r.plan.Final()
	return nil
}

func (r *runner) env(d browser.Driver) *Env {
	return newEnv(d, r.plan.Profile, r.buyer.opts.BaseURL, r.log)
}

func (r *runner) runStep(ctx context.Context, step Step) error {
	started := time.Now()
	var (
		lastErr error
		tries   int
	)

	for attempt := 1; attempt <= step.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := r.prepareRetry(ctx, step, attempt, lastErr); err != nil {
				tag := step.ScreenshotTag
				if errors.Is(err, session.ErrRecoveryFailed) {
					tag = "recovery-failed"
				}
				r.fail(ctx, step.Stage, tag, attempt, err)
				return err
			}
		}

		tries = attempt
		r.emit(step.Stage, "started", attempt, "")
		env := r.env(r.monitor.Session())
		detail, err := r.attempt(ctx, env, step.Stage)
		if err == nil {
			r.report.Stage = step.Stage
			r.report.Stages = append(r.report.Stages, StageResult{
				Stage:     step.Stage,
				Attempts:  attempt,
				Detail:    detail,
				ElapsedMS: time.Since(started).Milliseconds(),
			})
			r.log.Info("stage reached", zap.Stringer("stage", step.Stage), zap.Int("attempt", attempt), zap.String("detail", detail))
			r.emit(step.Stage, "reached", attempt, detail)
			return nil
		}

		lastErr = err
		category := session.Classify(err)
		r.log.Warn("stage attempt failed",
			zap.Stringer("stage", step.Stage),
			zap.Int("attempt", attempt),
			zap.Stringer("category", category),
			zap.Error(err))
		if category == session.CategoryCanceled {
			break
		}
	}

	r.fail(ctx, step.Stage, step.ScreenshotTag, tries, lastErr)
	return errStageFailed
}

func (r *runner) attempt(ctx context.Context, env *Env, stage Stage) (string, error) {
	if env.Driver == nil {
		return "", fmt.Errorf("%w: %w", session.ErrSessionFatal, session.ErrNotConnected)
	}
	detail, err := r.execute(ctx, env, stage)
	if err != nil {
		return "", err
	}
	if err := r.validate(ctx, env, stage); err != nil {
		return "", fmt.Errorf("validation: %w", err)
	}
	return detail, nil
}

// prepareRetry runs between attempts: recovery after a session-fatal
// failure, otherwise a fixed pause and a health probe, since retrying an
// element selection after a failure is a risky operation.
func (r *runner) prepareRetry(ctx context.Context, step Step, attempt int, lastErr error) error {
	r.emit(step.Stage, "retry", attempt, lastErr.Error())

	if !session.IsFatal(lastErr) {
		if !sleep(ctx, r.plan.Profile.RetryPause) {
			return ctx.Err()
		}
		err := r.monitor.CheckHealth(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, session.ErrSessionFatal) {
			return err
		}
	}

	if err := r.monitor.Recover(ctx); err != nil {
		r.report.Recoveries = r.monitor.Recoveries()
		return err
	}
	r.report.Recoveries = r.monitor.Recoveries()
	r.emit(step.Stage, "recovered", attempt, "")
	return nil
}

func (r *runner) recordAction(stage Stage, res *action.Result) {
	rec := ActionRecord{
		Stage:     stage,
		Kind:      res.Kind.String(),
		Strategy:  res.Strategy.String(),
		Confirmed: res.Confirmed,
	}
	for _, a := range res.Attempts {
		ar := AttemptRecord{Strategy: a.Strategy.String()}
		if a.Err != nil {
			ar.Error = a.Err.Error()
		}
		rec.Attempts = append(rec.Attempts, ar)
	}
	r.report.Actions = append(r.report.Actions, rec)
}

// fail marks the run Failed at stage and captures a screenshot tagged tag
// when a session is still available.
func (r *runner) fail(ctx context.Context, stage Stage, tag string, attempts int, err error) {
	r.report.Stage = Failed
	r.report.FailedAt = stage
	r.report.Reason = err.Error()
	r.report.Stages = append(r.report.Stages, StageResult{Stage: stage, Attempts: attempts, Error: err.Error()})
	if r.monitor != nil {
		r.report.Recoveries = r.monitor.Recoveries()
	}
	r.emit(stage, "failed", attempts, err.Error())

	if tag == "" || r.buyer.opts.Screenshots == nil || r.monitor == nil {
		return
	}
	s := r.monitor.Session()
	if s == nil {
		r.log.Debug("no session for failure screenshot", zap.String("tag", tag))
		return
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	png, err := s.Screenshot(sctx)
	if err != nil {
		r.log.Warn("failure screenshot not captured", zap.String("tag", tag), zap.Error(err))
		return
	}
	path, err := r.buyer.opts.Screenshots.Save(r.report.RunID, tag, png)
	if err != nil {
		r.log.Warn("failure screenshot not saved", zap.String("tag", tag), zap.Error(err))
		return
	}
	r.report.Screenshots = append(r.report.Screenshots, path)
	r.log.Info("saved failure screenshot", zap.String("path", path))
}

func (r *runner) emit(stage Stage, status string, attempt int, detail string) {
	obs := r.buyer.opts.Observer
	if obs == nil {
		return
	}
	obs(Event{
		RunID:   r.report.RunID,
		Stage:   stage,
		Status:  status,
		Attempt: attempt,
		Detail:  detail,
		Time:    time.Now(),
	})
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
