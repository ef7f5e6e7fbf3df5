package mutex

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniqueName(t *testing.T) string {
	return fmt.Sprintf("%s-%d-%d", t.Name(), os.Getpid(), time.Now().UnixNano())
}

func TestExclusion(t *testing.T) {
	name := uniqueName(t)
	first := New(name)
	second := New(name)

	require.True(t, first.TryLock())
	defer first.Unlock()
	assert.False(t, second.TryLock())

	first.Unlock()
	require.True(t, second.TryLock())
	second.Unlock()
}

func TestLockTimesOut(t *testing.T) {
	name := uniqueName(t)
	holder := New(name)
	require.True(t, holder.TryLock())
	defer holder.Unlock()

	contender := New(name)
	start := time.Now()
	err := contender.Lock(80 * time.Millisecond)
	require.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestStaleLockBroken(t *testing.T) {
	name := uniqueName(t)
	m := New(name)

	// fabricate a lock left behind by a pid that no longer exists
	require.NoError(t, os.WriteFile(m.path, []byte("999999999"), 0o644))
	victor := New(name)
	assert.True(t, victor.TryLock())
	victor.Unlock()
}

func TestGarbageLockBroken(t *testing.T) {
	name := uniqueName(t)
	m := New(name)
	require.NoError(t, os.WriteFile(m.path, []byte("not a pid"), 0o644))
	victor := New(name)
	assert.True(t, victor.TryLock())
	victor.Unlock()
}

func TestLiveLockNotBroken(t *testing.T) {
	name := uniqueName(t)
	m := New(name)
	require.NoError(t, os.WriteFile(m.path, []byte(fmt.Sprintf("%d", os.Getpid())), 0o644))
	defer os.Remove(m.path)
	assert.False(t, New(name).TryLock())
}

func TestForPathNormalization(t *testing.T) {
	a := ForPath("/tmp/some/../Database.json")
	b := ForPath("/tmp/Database.json")
	assert.Equal(t, a.path, b.path)
}

func TestWithReleases(t *testing.T) {
	name := uniqueName(t)
	m := New(name)
	ran := false
	require.NoError(t, m.With(time.Second, func() error {
		ran = true
		assert.False(t, New(name).TryLock(), "held while fn runs")
		return nil
	}))
	assert.True(t, ran)
	reacquired := New(name)
	assert.True(t, reacquired.TryLock())
	reacquired.Unlock()
}

func TestUnlockNotHeldIsNoOp(t *testing.T) {
	m := New(uniqueName(t))
	m.Unlock()
	assert.True(t, m.TryLock())
	m.Unlock()
}
