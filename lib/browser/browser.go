// Package browser owns the process-wide chromium instance used for
// login automation. The instance is launched lazily, shared by all
// headless work through incognito contexts, and relaunched if the
// devtools connection dies.
package browser

import (
	"context"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

type Service struct {
	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
}

func NewService() *Service {
	return &Service{}
}

// returns the shared headless browser, launching or relaunching it as
// needed. callers must not Close the returned browser.
func (s *Service) shared(ctx context.Context) (*rod.Browser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browser != nil {
		_, err := s.browser.Version()
		if err == nil {
			return s.browser, nil
		}
		slog.WarnContext(ctx, "shared browser disconnected, relaunching", "err", err)
		s.teardownLocked()
	}

	browser, l, err := launch(true)
	if err != nil {
		return nil, err
	}
	s.browser = browser
	s.launcher = l
	slog.InfoContext(ctx, "launched shared headless browser")
	return s.browser, nil
}

func launch(headless bool) (*rod.Browser, *launcher.Launcher, error) {
	path, _ := launcher.LookPath()
	l := launcher.New().Bin(path).Headless(headless)

	controlUrl, err := l.Launch()
	if err != nil {
		return nil, nil, err
	}
	browser := rod.New().ControlURL(controlUrl)
	err = browser.Connect()
	if err != nil {
		l.Kill()
		return nil, nil, err
	}
	return browser, l, nil
}

func (s *Service) teardownLocked() {
	if s.browser != nil {
		s.browser.Close()
		s.browser = nil
	}
	if s.launcher != nil {
		s.launcher.Kill()
		s.launcher = nil
	}
}

func (s *Service) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
}

// Context is one isolated automation context. Headless contexts are
// incognito profiles inside the shared browser; visible contexts own
// a dedicated browser process that dies with them.
type Context struct {
	browser *rod.Browser
	kill    func()
}

func (s *Service) NewContext(ctx context.Context, headless bool) (*Context, error) {
	if !headless {
		browser, l, err := launch(false)
		if err != nil {
			return nil, err
		}
		return &Context{
			browser: browser,
			kill: func() {
				browser.Close()
				l.Kill()
			},
		}, nil
	}

	shared, err := s.shared(ctx)
	if err != nil {
		return nil, err
	}
	incognito, err := shared.Incognito()
	if err != nil {
		return nil, err
	}
	return &Context{
		browser: incognito,
		kill:    func() { incognito.Close() },
	}, nil
}

// Wrap builds a Context around an externally managed browser. kill
// runs once on Close.
func Wrap(b *rod.Browser, kill func()) *Context {
	return &Context{browser: b, kill: kill}
}

func (c *Context) Browser() *rod.Browser {
	return c.browser
}

func (c *Context) Close() {
	if c.kill != nil {
		c.kill()
		c.kill = nil
	}
}
