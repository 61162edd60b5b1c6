package guard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/SmileBattle/internal/loop"
)

func TestNavigator_Matching(t *testing.T) {
	n := NewNavigator(func() bool { return true })
	n.SetMode(Matching)

	assert.Equal(t, ExitThenProceed, n.Check("/"))
	assert.Equal(t, Proceed, n.Check("/countdown/7"))
	assert.Equal(t, Proceed, n.Check("/battle/7"))
	assert.Equal(t, Proceed, n.Check("/match-load"))
	assert.Equal(t, ExitThenProceed, n.Check("/battle-result/x"))

	n.AllowAll()
	assert.Equal(t, Proceed, n.Check("/"))
}

func TestNavigator_LoggedOut(t *testing.T) {
	n := NewNavigator(func() bool { return false })
	n.SetMode(Battling)
	assert.Equal(t, Proceed, n.Check("/"))
}

func TestNavigator_BattleConfirm(t *testing.T) {
	n := NewNavigator(func() bool { return true })
	n.SetMode(Battling)

	_, err := n.Confirm()
	require.ErrorIs(t, err, ErrNavigationBlocked)

	assert.Equal(t, AwaitConfirm, n.Check("/mypage"))
	p, ok := n.Pending()
	require.True(t, ok)
	assert.Equal(t, "/mypage", p)

	n.Cancel()
	_, ok = n.Pending()
	assert.False(t, ok)

	n.Check("/home")
	dest, err := n.Confirm()
	require.NoError(t, err)
	assert.Equal(t, "/home", dest)
	assert.Equal(t, Proceed, n.Check("/anything"))

	n.SetMode(Battling)
	assert.Equal(t, AwaitConfirm, n.Check("/anything"))
}

type focusRec struct {
	warnings []bool
	timeouts int
}

func newFocus(clock *loop.Manual) (*FocusWatch, *focusRec) {
	rec := &focusRec{}
	f := NewFocusWatch(3*time.Second, 8*time.Second, clock, FocusHooks{
		OnWarning: func(on bool) { rec.warnings = append(rec.warnings, on) },
		OnTimeout: func() { rec.timeouts++ },
	})
	return f, rec
}

func TestFocusWatch_Timeout(t *testing.T) {
	clock := loop.NewManual(time.Unix(0, 0))
	f, rec := newFocus(clock)
	f.Enable()

	f.FocusLost()
	clock.Advance(3 * time.Second)
	assert.Equal(t, []bool{true}, rec.warnings)
	assert.Zero(t, rec.timeouts)

	clock.Advance(5 * time.Second)
	assert.Equal(t, 1, rec.timeouts)
	assert.Equal(t, []bool{true, false}, rec.warnings)

	// one shot per activation
	f.FocusGained()
	f.FocusLost()
	clock.Advance(10 * time.Second)
	assert.Equal(t, 1, rec.timeouts)

	f.Enable()
	f.FocusLost()
	clock.Advance(8 * time.Second)
	assert.Equal(t, 2, rec.timeouts)
}

func TestFocusWatch_RegainCancels(t *testing.T) {
	clock := loop.NewManual(time.Unix(0, 0))
	f, rec := newFocus(clock)
	f.Enable()

	f.FocusLost()
	clock.Advance(4 * time.Second)
	f.FocusGained()
	assert.Equal(t, []bool{true, false}, rec.warnings)
	assert.Zero(t, clock.Pending())

	clock.Advance(10 * time.Second)
	assert.Zero(t, rec.timeouts)
}

func TestFocusWatch_Disabled(t *testing.T) {
	clock := loop.NewManual(time.Unix(0, 0))
	f, rec := newFocus(clock)

	f.FocusLost()
	clock.Advance(10 * time.Second)
	assert.Zero(t, rec.timeouts)

	f.Enable()
	f.FocusLost()
	f.Disable()
	clock.Advance(10 * time.Second)
	assert.Zero(t, rec.timeouts)
	assert.False(t, f.Blurred())
}

func TestIsCapture(t *testing.T) {
	assert.True(t, IsCapture(KeyEvent{Key: "PrintScreen"}))
	assert.True(t, IsCapture(KeyEvent{Key: "S", Meta: true, Shift: true}))
	assert.True(t, IsCapture(KeyEvent{Key: "s", Meta: true, Shift: true}))
	assert.False(t, IsCapture(KeyEvent{Key: "s", Meta: true}))
	assert.False(t, IsCapture(KeyEvent{Key: "a"}))
}
