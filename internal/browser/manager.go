package browser

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tweetgrab/internal/browser/stealth"
	"github.com/xkilldash9x/tweetgrab/internal/config"
	"github.com/xkilldash9x/tweetgrab/internal/observability"
)

// Manager owns the exec allocator. Every session it opens runs in its own
// browser process with a throwaway profile, so attempts share no state.
type Manager struct {
	logger  *zap.Logger
	cfg     config.BrowserConfig
	auth    config.AuthConfig
	persona stealth.Persona
	filter  *RequestFilter

	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc

	// wg tracks open sessions for a graceful shutdown.
	wg sync.WaitGroup
}

var _ Launcher = (*Manager)(nil)

// NewManager prepares the allocator. No browser is started until the first
// session is requested.
func NewManager(ctx context.Context, logger *zap.Logger, cfg config.BrowserConfig, auth config.AuthConfig) (*Manager, error) {
	filter, err := NewRequestFilter(cfg.BlockedResources, logger)
	if err != nil {
		return nil, fmt.Errorf("invalid request filter: %w", err)
	}

	m := &Manager{
		logger:  logger.Named("browser_manager"),
		cfg:     cfg,
		auth:    auth,
		persona: PersonaFromConfig(cfg),
		filter:  filter,
	}

	if auth.AuthToken == "" || auth.CSRFToken == "" {
		m.logger.Warn("Session cookies are not fully configured; the profile may render a login wall.",
			observability.Secret("auth_token", auth.AuthToken),
			observability.Secret("ct0", auth.CSRFToken))
	}

	m.allocatorCtx, m.allocatorCancel = chromedp.NewExecAllocator(ctx, m.allocatorOptions()...)
	return m, nil
}

// PersonaFromConfig overlays the configured identity on the default persona.
func PersonaFromConfig(cfg config.BrowserConfig) stealth.Persona {
	p := stealth.DefaultPersona
	if cfg.UserAgent != "" {
		p.UserAgent = cfg.UserAgent
	}
	if cfg.Platform != "" {
		p.Platform = cfg.Platform
	}
	if cfg.Locale != "" {
		p.Locale = cfg.Locale
		base := strings.SplitN(strings.ReplaceAll(cfg.Locale, "_", "-"), "-", 2)[0]
		p.Languages = []string{cfg.Locale}
		if base != cfg.Locale {
			p.Languages = append(p.Languages, base)
		}
	}
	if cfg.Timezone != "" {
		p.Timezone = cfg.Timezone
	}
	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		p.Screen = stealth.Screen{Width: int64(cfg.ViewportWidth), Height: int64(cfg.ViewportHeight)}
	}
	return p
}

// allocatorFlags assembles the command-line flags for the browser process.
// A false value removes a default flag.
func allocatorFlags(cfg config.BrowserConfig, goos string) map[string]interface{} {
	flags := map[string]interface{}{
		"headless":                  cfg.Headless,
		"enable-automation":         false,
		"disable-blink-features":    "AutomationControlled",
		"disable-extensions":        true,
		"disable-gpu":               cfg.DisableGPU,
		"ignore-certificate-errors": cfg.IgnoreTLSErrors,
		"mute-audio":                true,
		"hide-scrollbars":           true,
	}

	if goos == "linux" {
		flags["disable-dev-shm-usage"] = true
		if cfg.NoSandbox {
			flags["no-sandbox"] = true
			flags["disable-setuid-sandbox"] = true
		}
	}

	// Custom arguments override everything above.
	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if name == "" {
			continue
		}
		if len(parts) == 2 {
			flags[name] = parts[1]
		} else {
			flags[name] = true
		}
	}
	return flags
}

func (m *Manager) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for name, value := range allocatorFlags(m.cfg, runtime.GOOS) {
		opts = append(opts, chromedp.Flag(name, value))
	}
	opts = append(opts,
		chromedp.UserAgent(m.persona.UserAgent),
		chromedp.WindowSize(int(m.persona.Screen.Width), int(m.persona.Screen.Height)),
	)
	if m.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(m.cfg.ExecPath))
	}
	return opts
}

// NewSession starts a browser process, applies the persona, installs the
// session cookies and the request filter. ctx bounds the startup only; the
// session lives until Close.
func (m *Manager) NewSession(ctx context.Context) (Page, error) {
	id := uuid.NewString()
	logger := m.logger.With(zap.String("session_id", id))

	sessionCtx, cancel := chromedp.NewContext(m.allocatorCtx)

	// The first Run allocates the browser and must use the session context
	// itself, or the process would die with the startup timeout.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(sessionCtx) }()
	select {
	case err := <-started:
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to start browser: %w", err)
		}
	case <-ctx.Done():
		cancel()
		<-started
		return nil, fmt.Errorf("browser startup interrupted: %w", ctx.Err())
	}

	s := &Session{
		id:     id,
		ctx:    sessionCtx,
		cancel: cancel,
		logger: logger,
		filter: m.filter,
	}

	setup := chromedp.Tasks{
		stealth.Apply(m.persona, logger),
		m.filter.Install(sessionCtx),
	}
	if c := m.cookies(); c != nil {
		setup = append(setup, c)
	}
	if err := s.run(ctx, setup); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to prepare browser session: %w", err)
	}

	m.wg.Add(1)
	s.onClose = m.wg.Done
	logger.Debug("Browser session ready.")
	return s, nil
}

// Shutdown waits for open sessions, bounded by ctx, then stops the allocator.
func (m *Manager) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Shutdown deadline exceeded. Forcing browser termination.", zap.Error(ctx.Err()))
	}

	m.allocatorCancel()
	<-m.allocatorCtx.Done()
	return nil
}
