package browser

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/config"
)

// fakeExecutor records every low-level call so tests can assert on the exact
// event sequences the manager produces.
type fakeExecutor struct {
	navigations []string
	backs       int
	mouseEvents []*input.DispatchMouseEventParams
	keyEvents   []*input.DispatchKeyEventParams
	inserted    []string
	captures    int
	location    string

	navigateErr error
	captureErr  error
	shot        []byte
}

func (f *fakeExecutor) Navigate(_ context.Context, url string) error {
	f.navigations = append(f.navigations, url)
	return f.navigateErr
}

func (f *fakeExecutor) NavigateBack(_ context.Context) error {
	f.backs++
	return nil
}

func (f *fakeExecutor) CaptureScreenshot(_ context.Context) ([]byte, error) {
	f.captures++
	if f.captureErr != nil {
		return nil, f.captureErr
	}
	if f.shot != nil {
		return f.shot, nil
	}
	return []byte(fmt.Sprintf("shot-%d", f.captures)), nil
}

func (f *fakeExecutor) DispatchMouse(_ context.Context, p *input.DispatchMouseEventParams) error {
	f.mouseEvents = append(f.mouseEvents, p)
	return nil
}

func (f *fakeExecutor) DispatchKey(_ context.Context, p *input.DispatchKeyEventParams) error {
	f.keyEvents = append(f.keyEvents, p)
	return nil
}

func (f *fakeExecutor) InsertText(_ context.Context, text string) error {
	f.inserted = append(f.inserted, text)
	return nil
}

func (f *fakeExecutor) Evaluate(_ context.Context, _ string, _ any) error { return nil }

func (f *fakeExecutor) Location(_ context.Context) (string, error) { return f.location, nil }

// fakeSessionProvider records provider traffic for Connect tests.
type fakeSessionProvider struct {
	created []CreateSessionParams
	getIDs  []string
	session *SessionInfo
	getErr  error
}

func (p *fakeSessionProvider) CreateSession(_ context.Context, params CreateSessionParams) (*SessionInfo, error) {
	p.created = append(p.created, params)
	return &SessionInfo{ID: "sess-new", Status: SessionStatusRunning, ConnectURL: "ws://new"}, nil
}

func (p *fakeSessionProvider) GetSession(_ context.Context, id string) (*SessionInfo, error) {
	p.getIDs = append(p.getIDs, id)
	if p.getErr != nil {
		return nil, p.getErr
	}
	return p.session, nil
}

func newTestManager(t *testing.T) (*Manager, *fakeExecutor) {
	cfg := config.NewDefaultConfig()
	cfg.Browser.ScreenshotTTL = time.Minute

	exec := &fakeExecutor{}
	m := NewManager(cfg, nil, nil, "tenant", "example.com", zaptest.NewLogger(t))
	m.exec = exec
	return m, exec
}

func TestSanitizeURL(t *testing.T) {
	t.Run("empty rejected", func(t *testing.T) {
		_, err := SanitizeURL("   ")
		assert.Error(t, err)
	})

	t.Run("scheme preserved", func(t *testing.T) {
		got, err := SanitizeURL("http://example.com")
		require.NoError(t, err)
		assert.Equal(t, "http://example.com", got)
	})

	t.Run("missing scheme gets https", func(t *testing.T) {
		got, err := SanitizeURL("example.com/path")
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/path", got)
	})
}

func TestClickValidation(t *testing.T) {
	m, exec := newTestManager(t)
	ctx := context.Background()

	t.Run("negative coordinates rejected", func(t *testing.T) {
		err := m.Click(ctx, -1, 10, schemas.ButtonLeft)
		assert.Error(t, err)
		assert.Empty(t, exec.mouseEvents)
	})

	t.Run("coordinates beyond viewport rejected", func(t *testing.T) {
		err := m.Click(ctx, m.cfg.Browser.ViewportWidth+5, 10, schemas.ButtonLeft)
		assert.Error(t, err)
	})

	t.Run("unknown button rejected", func(t *testing.T) {
		err := m.Click(ctx, 10, 10, "fourth")
		assert.Error(t, err)
	})

	t.Run("valid click presses and releases", func(t *testing.T) {
		require.NoError(t, m.Click(ctx, 100, 200, schemas.ButtonLeft))
		require.Len(t, exec.mouseEvents, 2)
		assert.Equal(t, input.MousePressed, exec.mouseEvents[0].Type)
		assert.Equal(t, input.MouseReleased, exec.mouseEvents[1].Type)
		assert.Equal(t, float64(100), exec.mouseEvents[0].X)
		assert.Equal(t, float64(200), exec.mouseEvents[0].Y)
	})
}

func TestDoubleClickSequence(t *testing.T) {
	m, exec := newTestManager(t)

	require.NoError(t, m.DoubleClick(context.Background(), 50, 60))
	require.Len(t, exec.mouseEvents, 4)
	assert.Equal(t, int64(2), exec.mouseEvents[3].ClickCount)
}

func TestKeypressChordSequence(t *testing.T) {
	m, exec := newTestManager(t)

	require.NoError(t, m.Keypress(context.Background(), []string{"CTRL", "a"}))
	require.Len(t, exec.keyEvents, 4)

	assert.Equal(t, input.KeyRawDown, exec.keyEvents[0].Type)
	assert.Equal(t, "Control", exec.keyEvents[0].Key)
	assert.Equal(t, input.KeyDown, exec.keyEvents[1].Type)
	assert.Equal(t, "a", exec.keyEvents[1].Key)
	assert.Equal(t, input.ModifierCtrl, exec.keyEvents[1].Modifiers)
	assert.Equal(t, input.KeyUp, exec.keyEvents[2].Type)
	assert.Equal(t, "a", exec.keyEvents[2].Key)
	assert.Equal(t, input.KeyUp, exec.keyEvents[3].Type)
	assert.Equal(t, "Control", exec.keyEvents[3].Key)
}

func TestDrag(t *testing.T) {
	m, exec := newTestManager(t)

	t.Run("requires two points", func(t *testing.T) {
		err := m.Drag(context.Background(), []schemas.Point{{X: 1, Y: 1}})
		assert.Error(t, err)
	})

	t.Run("press move release", func(t *testing.T) {
		path := []schemas.Point{{X: 10, Y: 10}, {X: 20, Y: 20}, {X: 30, Y: 30}}
		require.NoError(t, m.Drag(context.Background(), path))
		require.Len(t, exec.mouseEvents, 4)
		assert.Equal(t, input.MousePressed, exec.mouseEvents[0].Type)
		assert.Equal(t, input.MouseMoved, exec.mouseEvents[1].Type)
		assert.Equal(t, input.MouseMoved, exec.mouseEvents[2].Type)
		assert.Equal(t, input.MouseReleased, exec.mouseEvents[3].Type)
		assert.Equal(t, float64(30), exec.mouseEvents[3].X)
	})
}

func TestScreenshotCache(t *testing.T) {
	ctx := context.Background()

	t.Run("fresh capture cached within TTL", func(t *testing.T) {
		m, exec := newTestManager(t)

		first, err := m.Screenshot(ctx, false)
		require.NoError(t, err)
		second, err := m.Screenshot(ctx, false)
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, 1, exec.captures)
	})

	t.Run("force bypasses cache", func(t *testing.T) {
		m, exec := newTestManager(t)

		_, err := m.Screenshot(ctx, false)
		require.NoError(t, err)
		_, err = m.Screenshot(ctx, true)
		require.NoError(t, err)

		assert.Equal(t, 2, exec.captures)
	})

	t.Run("expired TTL recaptures", func(t *testing.T) {
		m, exec := newTestManager(t)
		m.cfg.Browser.ScreenshotTTL = time.Millisecond

		_, err := m.Screenshot(ctx, false)
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
		_, err = m.Screenshot(ctx, false)
		require.NoError(t, err)

		assert.Equal(t, 2, exec.captures)
	})

	t.Run("state-changing action invalidates cache", func(t *testing.T) {
		m, exec := newTestManager(t)

		_, err := m.Screenshot(ctx, false)
		require.NoError(t, err)
		require.NoError(t, m.Type(ctx, "hello"))
		_, err = m.Screenshot(ctx, false)
		require.NoError(t, err)

		assert.Equal(t, 2, exec.captures)
	})
}

func TestGoto(t *testing.T) {
	ctx := context.Background()

	t.Run("empty url rejected", func(t *testing.T) {
		m, exec := newTestManager(t)
		err := m.Goto(ctx, "")
		assert.Error(t, err)
		assert.Empty(t, exec.navigations)
	})

	t.Run("scheme prepended", func(t *testing.T) {
		m, exec := newTestManager(t)
		require.NoError(t, m.Goto(ctx, "example.com"))
		require.Len(t, exec.navigations, 1)
		assert.Equal(t, "https://example.com", exec.navigations[0])
	})

	t.Run("navigation failure wrapped", func(t *testing.T) {
		m, exec := newTestManager(t)
		exec.navigateErr = errors.New("net::ERR_NAME_NOT_RESOLVED")
		err := m.Goto(ctx, "https://bad.invalid")
		assert.ErrorContains(t, err, "navigation to https://bad.invalid failed")
	})
}

func TestOperationsRequireConnection(t *testing.T) {
	cfg := config.NewDefaultConfig()
	m := NewManager(cfg, nil, nil, "tenant", "example.com", zaptest.NewLogger(t))

	err := m.Click(context.Background(), 1, 1, schemas.ButtonLeft)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSessionLostBlocksOperations(t *testing.T) {
	m, _ := newTestManager(t)
	m.lost.Store(true)

	_, err := m.Screenshot(context.Background(), true)
	assert.ErrorIs(t, err, ErrSessionLost)
	assert.False(t, m.Alive())
}

func TestConnectResumesPriorSession(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Browser.ResumeSessionID = "sess-42"

	provider := &fakeSessionProvider{session: &SessionInfo{
		ID: "sess-42", Status: SessionStatusRunning, ConnectURL: "ws://existing",
	}}
	exec := &fakeExecutor{}
	m := NewManager(cfg, provider, nil, "tenant", "example.com", zaptest.NewLogger(t))

	var attached []string
	m.attach = func(connectURL string) error {
		attached = append(attached, connectURL)
		m.exec = exec
		return nil
	}

	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect(context.Background())

	assert.Equal(t, []string{"sess-42"}, provider.getIDs)
	assert.Empty(t, provider.created, "resume must not create a new session")
	assert.Equal(t, []string{"ws://existing"}, attached)
	assert.Equal(t, "sess-42", m.RemoteSessionID())
	assert.True(t, m.Alive())
}

func TestConnectRejectsDeadResumeSession(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Browser.ResumeSessionID = "sess-42"

	provider := &fakeSessionProvider{session: &SessionInfo{
		ID: "sess-42", Status: SessionStatusCompleted,
	}}
	m := NewManager(cfg, provider, nil, "tenant", "example.com", zaptest.NewLogger(t))

	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "cannot re-attach to session sess-42")
	assert.Empty(t, provider.created)
}

func TestConnectCreatesSessionWithoutResume(t *testing.T) {
	cfg := config.NewDefaultConfig()

	provider := &fakeSessionProvider{}
	exec := &fakeExecutor{}
	m := NewManager(cfg, provider, nil, "tenant", "example.com", zaptest.NewLogger(t))
	m.attach = func(string) error {
		m.exec = exec
		return nil
	}

	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect(context.Background())

	assert.Empty(t, provider.getIDs)
	require.Len(t, provider.created, 1)
	assert.Equal(t, cfg.Browser.ViewportWidth, provider.created[0].Viewport.Width)
	assert.Equal(t, "sess-new", m.RemoteSessionID())
}
