package willys

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"matkollen-backend/lib/browser"
)

var loginMeter = otel.Meter("scrapers/willys")
var loginCounter, _ = loginMeter.Int64Counter(
	"willys_login_total",
	metric.WithDescription("Login attempts by outcome."),
)

// login flow states, in the order the full flow walks them.
type loginState int

const (
	stateInit loginState = iota
	stateConsentHandled
	stateProviderTabSelected
	stateChallengeRequested
	stateChallengeDisplayed
	statePolling
	stateComplete
	stateFailed
	stateTimedOut
)

func (s loginState) String() string {
	switch s {
	case stateInit:
		return "init"
	case stateConsentHandled:
		return "consent_handled"
	case stateProviderTabSelected:
		return "provider_tab_selected"
	case stateChallengeRequested:
		return "challenge_requested"
	case stateChallengeDisplayed:
		return "challenge_displayed"
	case statePolling:
		return "polling"
	case stateComplete:
		return "complete"
	case stateFailed:
		return "failed"
	case stateTimedOut:
		return "timed_out"
	}
	return "unknown"
}

// selectors on the login page. these break whenever the portal ships
// a redesign, keep them in one place.
const (
	loginPath            = "/anvandare/inloggning"
	consentSelector      = "#onetrust-accept-btn-handler"
	bankidTabSelector    = `[data-testid="login-tab-bankid"]`
	otherDeviceSelector  = `[data-testid="bankid-other-device"]`
	qrImageSelector      = `[data-testid="bankid-qr"]`
	loggedInMarkSelector = `[data-testid="account-menu"]`
)

// ContextAdopter lets a successful headless login hand its live
// browser context to the warm pool instead of tearing it down.
type ContextAdopter interface {
	Adopt(identity string, bctx *browser.Context) bool
}

type Engine struct {
	browser *browser.Service
	store   ArtifactStore
	adopter ContextAdopter

	baseUrl      string
	fastTimeout  time.Duration
	fullTimeout  time.Duration
	pollInterval time.Duration
}

type EngineOptions struct {
	// defaults to DefaultBaseUrl
	BaseUrl string
	// token-only attempt budget, defaults to 60s
	FastTimeout time.Duration
	// ui-driven flow budget, defaults to 180s
	FullTimeout time.Duration
	// collect poll interval, defaults to 800ms
	PollInterval time.Duration
	// optional, receives the live context on successful headless logins
	Adopter ContextAdopter
}

func NewEngine(b *browser.Service, store ArtifactStore, opts EngineOptions) *Engine {
	if opts.BaseUrl == "" {
		opts.BaseUrl = DefaultBaseUrl
	}
	if opts.FastTimeout == 0 {
		opts.FastTimeout = time.Second * 60
	}
	if opts.FullTimeout == 0 {
		opts.FullTimeout = time.Second * 180
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Millisecond * 800
	}
	return &Engine{
		browser:      b,
		store:        store,
		adopter:      opts.Adopter,
		baseUrl:      opts.BaseUrl,
		fastTimeout:  opts.FastTimeout,
		fullTimeout:  opts.FullTimeout,
		pollInterval: opts.PollInterval,
	}
}

// SetAdopter wires in the warm pool after construction, the pool
// itself needs the engine to restore sessions.
func (e *Engine) SetAdopter(a ContextAdopter) {
	e.adopter = a
}

type LoginRequest struct {
	// empty for anonymous logins, which are never cached or persisted
	Identity string
	Headless bool
	// overrides the engine's full-flow budget when > 0
	Timeout time.Duration
}

// starts a login and returns its event stream immediately. the stream
// ends with exactly one done or error event.
func (e *Engine) Login(ctx context.Context, req LoginRequest) *LoginStream {
	stream := newLoginStream()
	go e.run(ctx, req, stream)
	return stream
}

func (e *Engine) run(ctx context.Context, req LoginRequest, stream *LoginStream) {
	ctx, span := tracer.Start(ctx, "Login")
	defer span.End()
	span.SetAttributes(
		attribute.String("identity", req.Identity),
		attribute.Bool("headless", req.Headless),
	)

	if req.Identity != "" && e.store != nil {
		prior, err := e.store.Load(ctx, req.Identity)
		if err == nil && prior != nil {
			stream.log("stored session found, attempting token-only login")
			artifact, err := e.fastPath(ctx, req.Identity, prior, stream)
			if err == nil {
				e.finish(ctx, span, req, stream, artifact, nil)
				return
			}
			stream.log("token-only login failed (%v), falling back to browser flow", err)
		}
	}

	budget := req.Timeout
	if budget == 0 {
		budget = e.fullTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	artifact, bctx, err := e.fullPath(runCtx, req, stream)
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrAuthTimeout) {
			err = fmt.Errorf("%w: %v", ErrAuthTimeout, err)
		}
		e.finish(ctx, span, req, stream, nil, err)
		return
	}
	e.finish(ctx, span, req, stream, artifact, nil)

	// hand the authenticated context to the pool, or drop it
	adopted := false
	if req.Headless && req.Identity != "" && e.adopter != nil {
		adopted = e.adopter.Adopt(req.Identity, bctx)
	}
	if !adopted && bctx != nil {
		bctx.Close()
	}
}

// finish persists the artifact, records the outcome and terminates
// the stream. called exactly once per login.
func (e *Engine) finish(ctx context.Context, span trace.Span, req LoginRequest, stream *LoginStream, artifact *SessionArtifact, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login failed")
		loginCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "failure")))
		slog.WarnContext(ctx, "login failed", "identity", req.Identity, "err", err)
		stream.fail(err)
		return
	}

	if req.Identity != "" && e.store != nil && artifact != nil {
		saveErr := e.store.Save(ctx, req.Identity, artifact)
		if saveErr != nil {
			// the login itself succeeded, the caller still gets the
			// artifact in the terminal event
			span.RecordError(saveErr)
			slog.WarnContext(ctx, "failed to persist session artifact",
				"identity", req.Identity, "err", saveErr)
		}
	}

	loginCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "success")))
	slog.InfoContext(ctx, "login complete", "identity", req.Identity)
	stream.done(&LoginResult{Ok: true, Identity: req.Identity, Artifact: artifact})
}

// fullPath drives an actual browser through the portal's login
// surface. returns the captured artifact and, on success, the live
// browser context (caller decides its fate).
func (e *Engine) fullPath(ctx context.Context, req LoginRequest, stream *LoginStream) (*SessionArtifact, *browser.Context, error) {
	state := stateInit
	fail := func(err error) (*SessionArtifact, *browser.Context, error) {
		return nil, nil, fmt.Errorf("state %s: %w", state, err)
	}

	bctx, err := e.browser.NewContext(ctx, req.Headless)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrAutomation, err))
	}
	succeeded := false
	defer func() {
		if !succeeded {
			bctx.Close()
		}
	}()

	stream.log("state=%s navigating to login page", state)
	page, err := bctx.Browser().Page(proto.TargetCreateTarget{URL: e.baseUrl + loginPath})
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrAutomation, err))
	}
	page = page.Context(ctx)
	page.WaitStable(time.Second)

	// consent overlays come and go with ab tests, never let one sink
	// the login
	if el, err := page.Timeout(time.Second * 5).Element(consentSelector); err == nil {
		el.Click(proto.InputMouseButtonLeft, 1)
		page.WaitStable(time.Millisecond * 500)
	}
	state = stateConsentHandled
	stream.log("state=%s consent overlay handled", state)

	el, err := page.Element(bankidTabSelector)
	if err != nil {
		return fail(fmt.Errorf("%w: bankid tab not found: %v", ErrAutomation, err))
	}
	err = el.Click(proto.InputMouseButtonLeft, 1)
	if err != nil {
		return fail(fmt.Errorf("%w: bankid tab not clickable: %v", ErrAutomation, err))
	}
	state = stateProviderTabSelected
	stream.log("state=%s bankid method selected", state)

	if el, err := page.Timeout(time.Second * 10).Element(otherDeviceSelector); err == nil {
		el.Click(proto.InputMouseButtonLeft, 1)
		page.WaitStable(time.Millisecond * 500)
	}

	// the challenge itself goes over the rest api with the browser's
	// cookies, the ui drive above exists to collect them (and any
	// csrf state) the way a real client would
	session, err := e.sessionFromBrowser(ctx, req.Identity, bctx, page)
	if err != nil {
		return fail(err)
	}
	challenge, err := e.requestChallenge(ctx, session.http)
	if err != nil {
		return fail(err)
	}
	state = stateChallengeRequested
	stream.log("state=%s bankid challenge requested", state)

	pageQr := func() []byte {
		el, err := page.Timeout(time.Second * 2).Element(qrImageSelector)
		if err != nil {
			return nil
		}
		png, err := el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
		if err != nil {
			return nil
		}
		return png
	}
	e.emitQr(stream, challenge.QrData, challenge.AutoStartToken, pageQr)
	state = stateChallengeDisplayed
	stream.log("state=%s scan the qr code with your bankid app", state)

	state = statePolling
	err = e.pollCollect(ctx, session.http, challenge.OrderRef, stream, pageQr)
	if err != nil {
		state = stateFailed
		if errors.Is(err, ErrAuthTimeout) {
			state = stateTimedOut
		}
		return fail(err)
	}

	// let the page settle into its logged-in state so the cookies and
	// local storage we capture are the real session
	page.Reload()
	page.WaitStable(time.Second)
	if _, err := page.Timeout(time.Second * 10).Element(loggedInMarkSelector); err != nil {
		stream.log("logged-in marker not found after completion, capturing session anyway")
	}

	artifact, err := captureArtifact(bctx.Browser(), page)
	if err != nil {
		return fail(fmt.Errorf("%w: capturing session: %v", ErrAutomation, err))
	}
	state = stateComplete
	stream.log("state=%s login complete", state)

	succeeded = true
	return artifact, bctx, nil
}

// builds a resty session seeded with the live browser's cookies.
func (e *Engine) sessionFromBrowser(ctx context.Context, identity string, bctx *browser.Context, page *rod.Page) (*Session, error) {
	snapshot, err := captureArtifact(bctx.Browser(), page)
	if err != nil {
		return nil, fmt.Errorf("%w: reading browser cookies: %v", ErrAutomation, err)
	}
	return NewSession(identity, snapshot, SessionOptions{BaseUrl: e.baseUrl})
}

// RestoreSession builds an authenticated session straight from a
// stored artifact, optionally binding it to a warm browser context.
func (e *Engine) RestoreSession(identity string, artifact *SessionArtifact, bctx *browser.Context) (*Session, error) {
	if artifact == nil {
		return nil, ErrSessionMissing
	}
	if bctx != nil {
		err := restoreArtifact(bctx.Browser(), artifact)
		if err != nil {
			return nil, err
		}
	}
	return NewSession(identity, artifact, SessionOptions{BaseUrl: e.baseUrl, Browser: bctx})
}

func (e *Engine) BaseUrl() string {
	return e.baseUrl
}
