package pool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencyWindow_SustainedHigh(t *testing.T) {
	w := newLatencyWindow(4)
	assert.False(t, w.sustainedHigh(100*time.Millisecond), "empty window is never high")

	for i := 0; i < 4; i++ {
		w.add(10 * time.Millisecond)
	}
	assert.False(t, w.sustainedHigh(100*time.Millisecond))

	for i := 0; i < 4; i++ {
		w.add(500 * time.Millisecond)
	}
	assert.True(t, w.sustainedHigh(100*time.Millisecond))
}

func TestPool_New_DefaultsSizeWhenNonPositive(t *testing.T) {
	timeouts := Timeouts{Fast: 50 * time.Millisecond, Medium: 100 * time.Millisecond, Deep: 200 * time.Millisecond}
	p := New(0, 3600, timeouts, nil)
	assert.Equal(t, 8, p.size)
	// Constructing a Pool against the real qdrant.Client type requires a
	// live connection; the behavior above that boundary (shouldRecycle,
	// latency tracking, timeout tiering) is exercised directly below
	// without dialing.
}

func TestShouldRecycle(t *testing.T) {
	p := &Pool{recycle: time.Hour}
	h := &Handle{createdAt: time.Now()}
	assert.False(t, p.shouldRecycle(h))

	h.failed = true
	assert.True(t, p.shouldRecycle(h))

	h2 := &Handle{createdAt: time.Now().Add(-2 * time.Hour)}
	assert.True(t, p.shouldRecycle(h2))
}

func TestCurrentTimeout_RelaxedPromotion(t *testing.T) {
	p := New(1, 0, Timeouts{
		Fast: 50 * time.Millisecond, Medium: 100 * time.Millisecond, Deep: 200 * time.Millisecond,
		RelaxedFast: 500 * time.Millisecond, RelaxedMedium: time.Second, RelaxedDeep: 2 * time.Second,
	}, nil)

	require.Equal(t, 50*time.Millisecond, p.currentTimeout(TierFast))

	for i := 0; i < 64; i++ {
		p.RecordLatency(300 * time.Millisecond)
	}
	assert.Equal(t, 500*time.Millisecond, p.currentTimeout(TierFast))
}

// TestAcquire_DialFailureReleasesSemaphoreExactlyOnce guards against a
// double-release of the reserved semaphore slot: take() used to leave
// the dial-failure path to Acquire's own `<-p.sem`, but a *second*
// failure path (health-check failure, via discard) also released the
// same slot, so a caller hitting that path freed a slot belonging to
// another in-flight Acquire. The dial-failure path is the one
// reachable here without a live Qdrant connection (health-check
// failure requires a real *qdrant.Client, exercised only against a
// live collection per the comment on TestPool_New_DefaultsSizeWhenNonPositive).
func TestAcquire_DialFailureReleasesSemaphoreExactlyOnce(t *testing.T) {
	timeouts := Timeouts{Fast: 50 * time.Millisecond, Medium: 100 * time.Millisecond, Deep: 200 * time.Millisecond}
	dialErr := errors.New("dial refused")
	p := New(1, 0, timeouts, func(ctx context.Context) (*qdrant.Client, error) {
		return nil, dialErr
	})

	_, err := p.Acquire(context.Background(), 100*time.Millisecond)
	require.Error(t, err)

	// A pool of size 1 must be acquirable again immediately: if the
	// slot had been released twice (or zero times), this second
	// Acquire would either succeed spuriously against an over-drained
	// semaphore or block/time out against a stuck one.
	_, err = p.Acquire(context.Background(), 100*time.Millisecond)
	require.Error(t, err, "dial still fails, but the pool must not report itself saturated from the first failed attempt")
}

// TestDiscard_ReleasesSemaphoreSlotExactlyOnce exercises discard in
// isolation, mirroring the bookkeeping take() performs just before
// calling it on a health-check failure: a slot already reserved in
// p.sem and the handle already counted in p.live. A caller (Acquire)
// must not release the same slot again afterward.
func TestDiscard_ReleasesSemaphoreSlotExactlyOnce(t *testing.T) {
	timeouts := Timeouts{Fast: 50 * time.Millisecond}
	p := New(2, 0, timeouts, nil)

	p.sem <- struct{}{}
	p.live = 1
	h := &Handle{pool: p}

	p.discard(h)

	assert.Equal(t, 0, p.live)
	assert.Equal(t, 0, len(p.sem), "discard must release its reserved slot back to the semaphore")

	// The slot must be usable again — a second reservation must not
	// block, and there must be no leftover token from a double release.
	select {
	case p.sem <- struct{}{}:
	default:
		t.Fatal("semaphore slot unavailable after discard")
	}
	<-p.sem
}
