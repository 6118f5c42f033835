package playwright

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	pw "github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/qapilot/pkg/browser"
)

func TestConfigDefaultsAndValidate(t *testing.T) {
	cfg := Config{Browser: " Firefox ", SlowMo: -5}.withDefaults()
	assert.Equal(t, EngineFirefox, cfg.Browser)
	assert.Zero(t, cfg.SlowMo)
	assert.NoError(t, cfg.Validate())

	assert.Equal(t, EngineChromium, Config{}.withDefaults().Browser)
	assert.Error(t, Config{Browser: "lynx"}.Validate())
}

func TestNewLauncherRejectsUnknownBrowser(t *testing.T) {
	_, err := NewLauncher(Config{Browser: "netscape"})
	require.Error(t, err)

	l, err := NewLauncher(DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, "playwright/chromium", l.Name())
}

func TestLaunchHonoursCancelledContext(t *testing.T) {
	l, err := NewLauncher(DefaultConfig())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Launch(ctx)
	assert.ErrorIs(t, err, browser.ErrUnavailable)
}

type fakeBrowser struct {
	pw.Browser
	connected bool
}

func (b *fakeBrowser) IsConnected() bool { return b.connected }

func TestTranslate(t *testing.T) {
	alive := &fakeBrowser{connected: true}
	assert.NoError(t, translate(nil, "x", alive))

	timeout := translate(errors.Join(pw.ErrTimeout, errors.New("waiting for locator")), "Click on 'Login'", alive)
	assert.True(t, browser.IsTimeout(timeout))
	assert.False(t, browser.IsFatal(timeout))
	assert.Equal(t, "Click on 'Login' timed out", browser.MessageOf(timeout))

	other := translate(errors.New("element is not an <input>"), "Fill of 'Name'", alive)
	assert.False(t, browser.IsFatal(other))
	assert.False(t, browser.IsTimeout(other))
	assert.Equal(t, "Fill of 'Name' failed", browser.MessageOf(other))
}

func TestTranslateTargetClosed(t *testing.T) {
	tests := []struct {
		name    string
		browser pw.Browser
		fatal   bool
		message string
	}{
		{
			name:    "page closed while browser is connected",
			browser: &fakeBrowser{connected: true},
			fatal:   false,
			message: "Click on 'Logout' failed: page was closed",
		},
		{
			name:    "browser disconnected",
			browser: &fakeBrowser{connected: false},
			fatal:   true,
			message: "Browser closed unexpectedly",
		},
		{
			name:    "no browser",
			browser: nil,
			fatal:   true,
			message: "Browser closed unexpectedly",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := translate(fmt.Errorf("locator.click: %w", pw.ErrTargetClosed), "Click on 'Logout'", tt.browser)
			assert.Equal(t, tt.fatal, browser.IsFatal(err))
			assert.False(t, browser.IsTimeout(err))
			assert.Equal(t, tt.message, browser.MessageOf(err))
			assert.ErrorIs(t, err, pw.ErrTargetClosed)
		})
	}
}

func TestSessionTranslateUsesItsBrowser(t *testing.T) {
	s := &Session{browser: &fakeBrowser{connected: true}}
	assert.False(t, browser.IsFatal(s.translate(pw.ErrTargetClosed, "Screenshot")))

	s.browser = &fakeBrowser{connected: false}
	assert.True(t, browser.IsFatal(s.translate(pw.ErrTargetClosed, "Screenshot")))
}

func TestRemainingUsesTighterBound(t *testing.T) {
	assert.InDelta(t, 10000, remaining(context.Background(), 10*time.Second), 0.001)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	got := remaining(ctx, 10*time.Second)
	assert.LessOrEqual(t, got, 500.0)
	assert.Greater(t, got, 0.0)
}
