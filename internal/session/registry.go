package session

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/lukaizhi5559/command-service-sub000/internal/observability"
	"github.com/lukaizhi5559/command-service-sub000/pkg/config"
)

// Registry owns the shared browser process and the per-key sessions inside
// it. Browser-level state (cookies, logins) is shared; each session owns its
// own tab. One session key maps to exactly one tab, and calls against the
// same key serialize on the session mutex.
type Registry struct {
	mu sync.Mutex

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	sessions map[string]*Session
	headless bool
	idleTTL  time.Duration
	logger   *observability.Logger
}

// Session is one browser tab bound to a caller-supplied key.
type Session struct {
	id       string
	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	lastUsed time.Time
}

func NewRegistry(cfg config.SessionConfig, logger *observability.Logger) *Registry {
	ttl := cfg.IdleTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Registry{
		sessions: make(map[string]*Session),
		headless: cfg.Headless,
		idleTTL:  ttl,
		logger:   logger,
	}
}

// initBrowser lazily launches the shared browser, restarting it if the
// previous instance died.
func (r *Registry) initBrowser() error {
	if r.browserCtx != nil {
		select {
		case <-r.browserCtx.Done():
			r.teardownLocked()
		default:
			return nil
		}
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("headless", r.headless),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)

	r.allocCtx, r.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	r.browserCtx, r.browserCancel = chromedp.NewContext(r.allocCtx)

	return chromedp.Run(r.browserCtx)
}

func (r *Registry) teardownLocked() {
	for id, s := range r.sessions {
		s.cancel()
		delete(r.sessions, id)
	}
	if r.browserCancel != nil {
		r.browserCancel()
	}
	if r.allocCancel != nil {
		r.allocCancel()
	}
	r.browserCtx = nil
	r.allocCtx = nil
}

// acquire returns the session for id, creating tab and session on first use.
func (r *Registry) acquire(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.initBrowser(); err != nil {
		return nil, err
	}

	if s, ok := r.sessions[id]; ok {
		select {
		case <-s.ctx.Done():
			delete(r.sessions, id)
		default:
			return s, nil
		}
	}

	tabCtx, tabCancel := chromedp.NewContext(r.browserCtx)
	s := &Session{
		id:       id,
		ctx:      tabCtx,
		cancel:   tabCancel,
		lastUsed: time.Now(),
	}
	r.sessions[id] = s
	if r.logger != nil {
		r.logger.LogSession(id, "created")
	}
	return s, nil
}

// Close tears down one session's tab. Closing an unknown key is a no-op.
func (r *Registry) Close(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		s.cancel()
		delete(r.sessions, id)
		if r.logger != nil {
			r.logger.LogSession(id, "closed")
		}
	}
}

// CloseAll shuts down every session and the shared browser.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teardownLocked()
}

// Count reports the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// StartReaper runs a background sweep that closes sessions idle past the
// TTL, bounding resource growth when callers abandon keys.
func (r *Registry) StartReaper(ctx context.Context) {
	interval := r.idleTTL / 4
	if interval < 15*time.Second {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.reapIdle()
			}
		}
	}()
}

func (r *Registry) reapIdle() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for id, s := range r.sessions {
		// TryLock: a session mid-call is in use by definition.
		if !s.mu.TryLock() {
			continue
		}
		idle := now.Sub(s.lastUsed)
		s.mu.Unlock()

		if idle > r.idleTTL {
			s.cancel()
			delete(r.sessions, id)
			if r.logger != nil {
				r.logger.LogSession(id, "reaped")
			}
		}
	}
}
