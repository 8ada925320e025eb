package grocery

import (
	"context"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"matkollen-backend/lib/browser"
	"matkollen-backend/lib/scrapers/willys"
)

const DefaultPoolCapacity = 8

// Pool keeps live authenticated browser contexts warm per identity so
// repeat fetches skip the cold login. Bounded, least recently used
// identity is closed and dropped once over capacity. An identity owns
// at most one context; anonymous and interactive (visible) requests
// never touch the pool.
type Pool struct {
	mu     sync.Mutex
	cache  *lru.Cache[string, *browser.Context]
	engine *willys.Engine

	newContext func(ctx context.Context) (*browser.Context, error)
}

func NewPool(b *browser.Service, engine *willys.Engine, capacity int) *Pool {
	if capacity <= 0 {
		capacity = DefaultPoolCapacity
	}
	cache, _ := lru.NewWithEvict(capacity, func(identity string, bctx *browser.Context) {
		slog.Debug("closing warm browser context", "identity", identity)
		bctx.Close()
	})
	return &Pool{
		cache:  cache,
		engine: engine,
		newContext: func(ctx context.Context) (*browser.Context, error) {
			return b.NewContext(ctx, true)
		},
	}
}

// Acquire returns a session bound to the identity's warm context,
// creating and caching one when absent. A cache hit refreshes the
// identity's recency instead of creating a second context. Returns
// (nil, nil) for anonymous or interactive requests, those run
// uncached. The pool keeps ownership of the context, callers must not
// Close the returned session.
func (p *Pool) Acquire(ctx context.Context, identity string, artifact *willys.SessionArtifact, headless bool) (*willys.Session, error) {
	if identity == "" || !headless {
		return nil, nil
	}

	p.mu.Lock()
	bctx, hit := p.cache.Get(identity)
	if !hit {
		var err error
		bctx, err = p.newContext(ctx)
		if err != nil {
			p.mu.Unlock()
			return nil, err
		}
		p.cache.Add(identity, bctx)
	}
	p.mu.Unlock()

	if hit {
		// cookies were restored when the context entered the pool
		return p.engine.RestoreSession(identity, artifact, nil)
	}
	return p.engine.RestoreSession(identity, artifact, bctx)
}

// Adopt takes ownership of a context that just completed a login.
// Implements the engine's adoption hook. Returns false (caller keeps
// ownership) for anonymous logins.
func (p *Pool) Adopt(identity string, bctx *browser.Context) bool {
	if identity == "" || bctx == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.cache.Peek(identity); ok && existing != bctx {
		p.cache.Remove(identity)
	}
	p.cache.Add(identity, bctx)
	return true
}

// Drop closes and removes the identity's context, used when its
// session turns out to be dead.
func (p *Pool) Drop(identity string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Remove(identity)
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cache.Len()
}

// Close drains the pool, closing every warm context.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Purge()
}
