// internal/browser/manager.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/config"
)

// ErrSessionLost indicates the remote session died and reconnection attempts
// were exhausted. The run cannot continue once this is returned.
var ErrSessionLost = errors.New("remote browser session lost")

// ErrNotConnected is returned by page operations before Connect succeeds.
var ErrNotConnected = errors.New("browser manager is not connected")

// waitDuration is how long a model-requested "wait" action pauses.
const waitDuration = 2 * time.Second

// AuthContextStore is the slice of the auth-context registry the manager
// needs. Acquire returns the provider context id for (tenant, platform),
// creating and persisting a fresh one when none exists.
type AuthContextStore interface {
	Acquire(ctx context.Context, tenant, platform string) (contextID string, fresh bool, err error)
	MarkUsed(ctx context.Context, tenant, platform string) error
}

// Manager owns a single remote browser session: it acquires the session from
// the provider, attaches over CDP, executes viewport actions, caches
// screenshots, and keeps the session alive with a heartbeat.
type Manager struct {
	cfg      *config.Config
	logger   *zap.Logger
	provider SessionProvider
	auth     AuthContextStore

	tenant   string
	platform string

	// newExecutor and attach are swappable in tests.
	newExecutor func(tab context.Context, logger *zap.Logger) PageExecutor
	attach      func(connectURL string) error

	mu          sync.Mutex
	exec        PageExecutor
	session     *SessionInfo
	contextID   string
	allocCancel context.CancelFunc
	tabCancel   context.CancelFunc
	connectedAt time.Time

	shot   []byte
	shotAt time.Time

	navInFlight atomic.Bool
	lost        atomic.Bool

	hbStop   chan struct{}
	hbDone   chan struct{}
	stopOnce sync.Once
}

// NewManager builds a disconnected manager. auth may be nil when no
// authentication context should be reused.
func NewManager(cfg *config.Config, provider SessionProvider, auth AuthContextStore, tenant, platform string, logger *zap.Logger) *Manager {
	m := &Manager{
		cfg:      cfg,
		logger:   logger.Named("browser"),
		provider: provider,
		auth:     auth,
		tenant:   tenant,
		platform: platform,
		newExecutor: func(tab context.Context, l *zap.Logger) PageExecutor {
			return newCDPExecutor(tab, l)
		},
	}
	m.attach = m.attachLocked
	return m
}

// Connect acquires a remote session and attaches to it over CDP. With a
// resume session id configured it re-attaches to that session; otherwise it
// creates a fresh one, reusing the persisted authentication context for
// (tenant, platform) when one exists. The heartbeat loop starts on success.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.exec != nil {
		return nil
	}

	info, contextID, err := m.acquireSessionLocked(ctx)
	if err != nil {
		return err
	}

	if err := m.attach(info.ConnectURL); err != nil {
		return err
	}

	m.session = info
	m.contextID = contextID
	m.connectedAt = time.Now()
	m.logger.Info("Connected to remote browser session.",
		zap.String("remote_session_id", info.ID))

	m.hbStop = make(chan struct{})
	m.hbDone = make(chan struct{})
	go m.heartbeat()

	return nil
}

// acquireSessionLocked either looks up a caller-supplied prior session or
// creates a fresh one under the persisted auth context. Caller holds mu.
func (m *Manager) acquireSessionLocked(ctx context.Context) (*SessionInfo, string, error) {
	if resume := m.cfg.Browser.ResumeSessionID; resume != "" {
		info, err := m.provider.GetSession(ctx, resume)
		if err != nil {
			return nil, "", fmt.Errorf("failed to look up session %s: %w", resume, err)
		}
		if info.Status != SessionStatusRunning {
			return nil, "", fmt.Errorf("cannot re-attach to session %s: status is %s", resume, info.Status)
		}
		m.logger.Info("Re-attaching to existing remote session.",
			zap.String("remote_session_id", info.ID))
		return info, "", nil
	}

	var contextID string
	if m.auth != nil {
		id, fresh, err := m.auth.Acquire(ctx, m.tenant, m.platform)
		if err != nil {
			return nil, "", fmt.Errorf("failed to acquire auth context: %w", err)
		}
		contextID = id
		m.logger.Info("Acquired authentication context.",
			zap.String("context_id", contextID),
			zap.Bool("fresh", fresh))
	}

	params := CreateSessionParams{
		ProjectID:      m.cfg.Provider.ProjectID,
		Region:         m.cfg.Provider.Region,
		Proxies:        m.cfg.Provider.UseProxy,
		KeepAlive:      m.cfg.Provider.KeepAlive,
		TimeoutSeconds: int(m.cfg.Provider.SessionTimeout / time.Second),
		Viewport: Viewport{
			Width:  m.cfg.Browser.ViewportWidth,
			Height: m.cfg.Browser.ViewportHeight,
		},
	}
	if contextID != "" {
		params.Context = &ContextSettings{ID: contextID, Persist: true}
	}

	info, err := m.provider.CreateSession(ctx, params)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create remote session: %w", err)
	}
	return info, contextID, nil
}

// attachLocked dials the CDP endpoint and establishes the tab. Caller holds mu.
func (m *Manager) attachLocked(connectURL string) error {
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), connectURL, chromedp.NoModifyURL)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// Establish the target connection up front so failures surface here.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return fmt.Errorf("failed to attach to remote browser: %w", err)
	}

	m.allocCancel = allocCancel
	m.tabCancel = tabCancel
	m.exec = m.newExecutor(tabCtx, m.logger)
	return nil
}

func (m *Manager) executor() (PageExecutor, error) {
	if m.lost.Load() {
		return nil, ErrSessionLost
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exec == nil {
		return nil, ErrNotConnected
	}
	return m.exec, nil
}

// Alive reports whether the session is still usable.
func (m *Manager) Alive() bool {
	return !m.lost.Load()
}

// RemoteSessionID returns the provider's id for the active session.
func (m *Manager) RemoteSessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return ""
	}
	return m.session.ID
}

func (m *Manager) validateCoords(x, y int) error {
	if x < 0 || y < 0 || x >= m.cfg.Browser.ViewportWidth || y >= m.cfg.Browser.ViewportHeight {
		return fmt.Errorf("coordinates (%d, %d) outside viewport %dx%d",
			x, y, m.cfg.Browser.ViewportWidth, m.cfg.Browser.ViewportHeight)
	}
	return nil
}

func mouseButton(name string) (input.MouseButton, error) {
	switch name {
	case "", schemas.ButtonLeft:
		return input.Left, nil
	case schemas.ButtonRight:
		return input.Right, nil
	case schemas.ButtonMiddle:
		return input.Middle, nil
	case schemas.ButtonBack:
		return input.Back, nil
	case schemas.ButtonForward:
		return input.Forward, nil
	default:
		return "", fmt.Errorf("unknown mouse button %q", name)
	}
}

// Click performs a single click at (x, y) with the given button.
func (m *Manager) Click(ctx context.Context, x, y int, button string) error {
	return m.clickCount(ctx, x, y, button, 1)
}

// DoubleClick performs a double click at (x, y).
func (m *Manager) DoubleClick(ctx context.Context, x, y int) error {
	return m.clickCount(ctx, x, y, schemas.ButtonLeft, 2)
}

func (m *Manager) clickCount(ctx context.Context, x, y int, button string, count int) error {
	if err := m.validateCoords(x, y); err != nil {
		return err
	}
	btn, err := mouseButton(button)
	if err != nil {
		return err
	}
	exec, err := m.executor()
	if err != nil {
		return err
	}

	fx, fy := float64(x), float64(y)
	for i := 1; i <= count; i++ {
		press := input.DispatchMouseEvent(input.MousePressed, fx, fy).
			WithButton(btn).WithClickCount(int64(i))
		if err := exec.DispatchMouse(ctx, press); err != nil {
			return fmt.Errorf("mouse press failed: %w", err)
		}
		release := input.DispatchMouseEvent(input.MouseReleased, fx, fy).
			WithButton(btn).WithClickCount(int64(i))
		if err := exec.DispatchMouse(ctx, release); err != nil {
			return fmt.Errorf("mouse release failed: %w", err)
		}
	}
	m.invalidateScreenshot()
	return nil
}

// Move moves the cursor to (x, y) without clicking.
func (m *Manager) Move(ctx context.Context, x, y int) error {
	if err := m.validateCoords(x, y); err != nil {
		return err
	}
	exec, err := m.executor()
	if err != nil {
		return err
	}
	ev := input.DispatchMouseEvent(input.MouseMoved, float64(x), float64(y))
	return exec.DispatchMouse(ctx, ev)
}

// Scroll scrolls the wheel at (x, y) by (deltaX, deltaY) pixels.
func (m *Manager) Scroll(ctx context.Context, x, y, deltaX, deltaY int) error {
	if err := m.validateCoords(x, y); err != nil {
		return err
	}
	exec, err := m.executor()
	if err != nil {
		return err
	}
	ev := input.DispatchMouseEvent(input.MouseWheel, float64(x), float64(y)).
		WithDeltaX(float64(deltaX)).
		WithDeltaY(float64(deltaY))
	if err := exec.DispatchMouse(ctx, ev); err != nil {
		return fmt.Errorf("scroll failed: %w", err)
	}
	m.invalidateScreenshot()
	return nil
}

// Type inserts text into the currently focused element.
func (m *Manager) Type(ctx context.Context, text string) error {
	exec, err := m.executor()
	if err != nil {
		return err
	}
	if err := exec.InsertText(ctx, text); err != nil {
		return fmt.Errorf("typing failed: %w", err)
	}
	m.invalidateScreenshot()
	return nil
}

// Keypress dispatches a key chord: modifiers are held while the remaining
// keys are pressed and released, then the modifiers are released in reverse.
func (m *Manager) Keypress(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return errors.New("keypress requires at least one key")
	}
	modifiers, plain, err := translateChord(keys)
	if err != nil {
		return err
	}
	exec, err := m.executor()
	if err != nil {
		return err
	}

	mods := chordModifiers(modifiers)

	for _, mod := range modifiers {
		down := input.DispatchKeyEvent(input.KeyRawDown).WithKey(mod)
		if err := exec.DispatchKey(ctx, down); err != nil {
			return fmt.Errorf("modifier press failed: %w", err)
		}
	}
	for _, key := range plain {
		down := input.DispatchKeyEvent(input.KeyDown).WithKey(key).WithModifiers(mods)
		if len(key) == 1 && mods == 0 {
			down = down.WithText(key)
		}
		if err := exec.DispatchKey(ctx, down); err != nil {
			return fmt.Errorf("key press failed: %w", err)
		}
		up := input.DispatchKeyEvent(input.KeyUp).WithKey(key).WithModifiers(mods)
		if err := exec.DispatchKey(ctx, up); err != nil {
			return fmt.Errorf("key release failed: %w", err)
		}
	}
	for i := len(modifiers) - 1; i >= 0; i-- {
		up := input.DispatchKeyEvent(input.KeyUp).WithKey(modifiers[i])
		if err := exec.DispatchKey(ctx, up); err != nil {
			return fmt.Errorf("modifier release failed: %w", err)
		}
	}

	m.invalidateScreenshot()
	return nil
}

// Drag presses at the first point, moves through the path, and releases at
// the last point.
func (m *Manager) Drag(ctx context.Context, path []schemas.Point) error {
	if len(path) < 2 {
		return fmt.Errorf("drag requires at least 2 points, got %d", len(path))
	}
	for _, p := range path {
		if err := m.validateCoords(p.X, p.Y); err != nil {
			return err
		}
	}
	exec, err := m.executor()
	if err != nil {
		return err
	}

	start := path[0]
	press := input.DispatchMouseEvent(input.MousePressed, float64(start.X), float64(start.Y)).
		WithButton(input.Left).WithClickCount(1)
	if err := exec.DispatchMouse(ctx, press); err != nil {
		return fmt.Errorf("drag press failed: %w", err)
	}
	for _, p := range path[1:] {
		move := input.DispatchMouseEvent(input.MouseMoved, float64(p.X), float64(p.Y)).
			WithButton(input.Left)
		if err := exec.DispatchMouse(ctx, move); err != nil {
			return fmt.Errorf("drag move failed: %w", err)
		}
	}
	end := path[len(path)-1]
	release := input.DispatchMouseEvent(input.MouseReleased, float64(end.X), float64(end.Y)).
		WithButton(input.Left).WithClickCount(1)
	if err := exec.DispatchMouse(ctx, release); err != nil {
		return fmt.Errorf("drag release failed: %w", err)
	}

	m.invalidateScreenshot()
	return nil
}

// Wait pauses for a fixed interval so slow pages can settle.
func (m *Manager) Wait(ctx context.Context) error {
	select {
	case <-time.After(waitDuration):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SanitizeURL normalizes a navigation target: empty input is rejected and a
// missing scheme defaults to https.
func SanitizeURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errors.New("navigation URL is empty")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	return trimmed, nil
}

// Goto navigates to the given URL. An in-flight navigation causes a short
// wait with a warning rather than a hard failure; the navigation itself runs
// under a bounded timeout so a slow page cannot hang the run.
func (m *Manager) Goto(ctx context.Context, rawURL string) error {
	target, err := SanitizeURL(rawURL)
	if err != nil {
		return err
	}
	exec, err := m.executor()
	if err != nil {
		return err
	}

	if m.navInFlight.Load() {
		m.logger.Warn("Navigation requested while another is in flight, waiting briefly.",
			zap.String("url", target))
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.navInFlight.Store(true)
	defer m.navInFlight.Store(false)

	navCtx, cancel := context.WithTimeout(ctx, m.cfg.Browser.NavigationTimeout)
	defer cancel()

	m.logger.Info("Navigating.", zap.String("url", target))
	if err := exec.Navigate(navCtx, target); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", target, err)
	}
	m.invalidateScreenshot()
	return nil
}

// Back navigates one entry back in session history.
func (m *Manager) Back(ctx context.Context) error {
	exec, err := m.executor()
	if err != nil {
		return err
	}
	navCtx, cancel := context.WithTimeout(ctx, m.cfg.Browser.NavigationTimeout)
	defer cancel()
	if err := exec.NavigateBack(navCtx); err != nil {
		return fmt.Errorf("history back failed: %w", err)
	}
	m.invalidateScreenshot()
	return nil
}

// CurrentURL returns the page's current location.
func (m *Manager) CurrentURL(ctx context.Context) (string, error) {
	exec, err := m.executor()
	if err != nil {
		return "", err
	}
	return exec.Location(ctx)
}

// Screenshot returns a PNG of the viewport. A recent capture is served from
// cache unless force is set; state-changing actions invalidate the cache.
func (m *Manager) Screenshot(ctx context.Context, force bool) ([]byte, error) {
	m.mu.Lock()
	if !force && m.shot != nil && time.Since(m.shotAt) < m.cfg.Browser.ScreenshotTTL {
		cached := m.shot
		m.mu.Unlock()
		return cached, nil
	}
	m.mu.Unlock()

	exec, err := m.executor()
	if err != nil {
		return nil, err
	}
	capCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	data, err := exec.CaptureScreenshot(capCtx)
	if err != nil {
		return nil, fmt.Errorf("screenshot capture failed: %w", err)
	}

	m.mu.Lock()
	m.shot = data
	m.shotAt = time.Now()
	m.mu.Unlock()
	return data, nil
}

func (m *Manager) invalidateScreenshot() {
	m.mu.Lock()
	m.shot = nil
	m.mu.Unlock()
}

// heartbeat probes the page periodically. A failed probe triggers
// reconnection; exhausted reconnect attempts mark the session lost. It also
// warns as the provider's session hard timeout approaches.
func (m *Manager) heartbeat() {
	defer close(m.hbDone)

	ticker := time.NewTicker(m.cfg.Browser.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.hbStop:
			return
		case <-ticker.C:
		}

		m.mu.Lock()
		exec := m.exec
		started := m.connectedAt
		m.mu.Unlock()
		if exec == nil {
			continue
		}

		if ttl := m.cfg.Provider.SessionTimeout; ttl > 0 {
			remaining := ttl - time.Since(started)
			if remaining < 2*m.cfg.Browser.HeartbeatInterval {
				m.logger.Warn("Remote session approaching its hard timeout.",
					zap.Duration("remaining", remaining))
			}
		}

		probeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := exec.Evaluate(probeCtx, "1", nil)
		cancel()
		if err == nil {
			continue
		}

		m.logger.Warn("Heartbeat probe failed, attempting reconnect.", zap.Error(err))
		if rErr := m.reconnect(); rErr != nil {
			m.logger.Error("Reconnection failed, session lost.", zap.Error(rErr))
			m.lost.Store(true)
			return
		}
	}
}

// reconnect re-attaches to the existing remote session with exponential
// backoff, bounded by the configured attempt count.
func (m *Manager) reconnect() error {
	m.mu.Lock()
	session := m.session
	oldTab, oldAlloc := m.tabCancel, m.allocCancel
	m.mu.Unlock()
	if session == nil {
		return ErrNotConnected
	}

	if oldTab != nil {
		oldTab()
	}
	if oldAlloc != nil {
		oldAlloc()
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxInterval = 15 * time.Second

	attempts := m.cfg.Browser.ReconnectAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		info, err := m.provider.GetSession(ctx, session.ID)
		if err == nil && info.Status == SessionStatusRunning {
			m.mu.Lock()
			m.exec = nil
			err = m.attach(info.ConnectURL)
			m.mu.Unlock()
		} else if err == nil {
			err = fmt.Errorf("remote session is %s, cannot re-attach", info.Status)
		}
		cancel()

		if err == nil {
			m.logger.Info("Reconnected to remote session.",
				zap.Int("attempt", attempt))
			return nil
		}
		lastErr = err
		m.logger.Warn("Reconnect attempt failed.",
			zap.Int("attempt", attempt), zap.Error(err))

		select {
		case <-time.After(policy.NextBackOff()):
		case <-m.hbStop:
			return errors.New("reconnect aborted by shutdown")
		}
	}
	return fmt.Errorf("exhausted %d reconnect attempts: %w", attempts, lastErr)
}

// Disconnect tears the session down best-effort. When an authentication
// context is in play it waits a short delay so the provider durably persists
// the context, then marks it used so a future run can skip login.
func (m *Manager) Disconnect(ctx context.Context) {
	m.stopOnce.Do(func() {
		if m.hbStop != nil {
			close(m.hbStop)
			<-m.hbDone
		}

		m.mu.Lock()
		tabCancel, allocCancel := m.tabCancel, m.allocCancel
		contextID := m.contextID
		m.exec = nil
		m.tabCancel, m.allocCancel = nil, nil
		m.shot = nil
		m.mu.Unlock()

		if tabCancel != nil {
			tabCancel()
		}
		if allocCancel != nil {
			allocCancel()
		}

		if contextID != "" && m.auth != nil {
			// Give the provider time to flush cookies and storage into the
			// persisted context before recording it as usable.
			delay := m.cfg.Browser.ContextPersistDelay
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
				}
			}
			if err := m.auth.MarkUsed(ctx, m.tenant, m.platform); err != nil {
				m.logger.Warn("Failed to mark auth context as used.", zap.Error(err))
			}
		}

		m.logger.Info("Disconnected from remote browser session.")
	})
}
