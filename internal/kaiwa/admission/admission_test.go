package admission_test

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/bdobrica/kaiwa/internal/kaiwa/admission"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSecondAdmitRejectedUntilRelease(t *testing.T) {
	c := admission.New()

	tok, ok := c.TryAdmit(42)
	require.True(t, ok)
	assert.Equal(t, int64(42), tok.ChatID())

	_, ok = c.TryAdmit(42)
	assert.False(t, ok, "second admission of a busy chat must be rejected")
	assert.True(t, c.Busy(42))

	tok.Release()
	assert.False(t, c.Busy(42))

	again, ok := c.TryAdmit(42)
	require.True(t, ok)
	again.Release()
}

func TestChatsAreIndependent(t *testing.T) {
	c := admission.New()
	a, ok := c.TryAdmit(1)
	require.True(t, ok)
	b, ok := c.TryAdmit(2)
	require.True(t, ok)
	assert.Equal(t, 2, c.Len())

	a.Release()
	b.Release()
	assert.Equal(t, 0, c.Len())
}

func TestReleaseIsIdempotent(t *testing.T) {
	c := admission.New()
	stale, ok := c.TryAdmit(7)
	require.True(t, ok)
	stale.Release()

	fresh, ok := c.TryAdmit(7)
	require.True(t, ok)

	// Releasing the stale token again must not free the fresh admission.
	stale.Release()
	assert.True(t, c.Busy(7))
	_, ok = c.TryAdmit(7)
	assert.False(t, ok)

	fresh.Release()
	assert.False(t, c.Busy(7))

	var nilToken *admission.Token
	nilToken.Release()
}

func TestZeroValueController(t *testing.T) {
	var c admission.Controller
	tok, ok := c.TryAdmit(3)
	require.True(t, ok)
	tok.Release()
	assert.Equal(t, 0, c.Len())
}

func TestGuardReleasesOnSuccess(t *testing.T) {
	c := admission.New()
	called := false
	admitted, err := c.Guard(5, func() error {
		called = true
		assert.True(t, c.Busy(5))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, admitted)
	assert.True(t, called)
	assert.False(t, c.Busy(5))
}

func TestGuardReleasesOnError(t *testing.T) {
	c := admission.New()
	boom := errors.New("completion failed")
	admitted, err := c.Guard(5, func() error { return boom })
	assert.True(t, admitted)
	assert.ErrorIs(t, err, boom)
	assert.False(t, c.Busy(5))
}

func TestGuardReleasesOnEarlyReturn(t *testing.T) {
	c := admission.New()
	admitted, err := c.Guard(5, func() error {
		if c.Busy(5) {
			return nil
		}
		t.Fatal("unreachable")
		return nil
	})
	require.NoError(t, err)
	assert.True(t, admitted)
	assert.False(t, c.Busy(5))
}

func TestGuardReleasesOnPanic(t *testing.T) {
	c := admission.New()
	func() {
		defer func() {
			r := recover()
			assert.Equal(t, "handler exploded", r)
		}()
		c.Guard(5, func() error { panic("handler exploded") })
	}()
	assert.False(t, c.Busy(5))

	_, ok := c.TryAdmit(5)
	assert.True(t, ok)
}

func TestGuardRejectsBusyChat(t *testing.T) {
	c := admission.New()
	tok, _ := c.TryAdmit(9)
	defer tok.Release()

	called := false
	admitted, err := c.Guard(9, func() error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, admitted)
	assert.False(t, called)
}

func TestConcurrentAdmissionIsExclusive(t *testing.T) {
	c := admission.New()
	var inFlight, maxInFlight, admitted atomic.Int32

	var g errgroup.Group
	for i := 0; i < 64; i++ {
		g.Go(func() error {
			ok, err := c.Guard(100, func() error {
				n := inFlight.Add(1)
				for {
					m := maxInFlight.Load()
					if n <= m || maxInFlight.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				inFlight.Add(-1)
				return nil
			})
			if ok {
				admitted.Add(1)
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), maxInFlight.Load(), "at most one request per chat may be in flight")
	assert.GreaterOrEqual(t, admitted.Load(), int32(1))
	assert.Equal(t, 0, c.Len())
}
