package watchdog

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFiresOnlyWhenArmed(t *testing.T) {
	var fired atomic.Int32
	dog := New(30*time.Millisecond, func() { fired.Add(1) })
	defer dog.Stop()

	assert.Equal(t, STOPPED, dog.State())
	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, fired.Load(), "never armed, never fires")

	dog.Arm()
	require.Eventually(t, func() bool { return fired.Load() == 1 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, DISARMED, dog.State())

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load(), "fires once per arming")
}

func TestDisarmPreventsFiring(t *testing.T) {
	var fired atomic.Int32
	dog := New(30*time.Millisecond, func() { fired.Add(1) })
	defer dog.Stop()

	dog.Arm()
	dog.Disarm()
	assert.Equal(t, DISARMED, dog.State())
	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, fired.Load())
}

func TestRearmResetsTimer(t *testing.T) {
	var fired atomic.Int32
	dog := New(50*time.Millisecond, func() { fired.Add(1) })
	defer dog.Stop()

	dog.Arm()
	for i := 0; i < 4; i++ {
		time.Sleep(20 * time.Millisecond)
		dog.Arm()
	}
	assert.Zero(t, fired.Load(), "steady progress keeps the timer reset")

	require.Eventually(t, func() bool { return fired.Load() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestStopIsTerminal(t *testing.T) {
	var fired atomic.Int32
	dog := New(30*time.Millisecond, func() { fired.Add(1) })

	dog.Arm()
	dog.Stop()
	assert.Equal(t, STOPPED, dog.State())
	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, fired.Load())
}
