package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewMicroBreaker(3, time.Hour)

	b.OnFailure()
	b.OnFailure()
	assert.True(t, b.Ready(), "stays closed below the threshold")

	b.OnFailure()
	assert.False(t, b.Ready(), "third consecutive failure opens it")
	assert.False(t, b.TryAcquire())
}

func TestBreakerSuccessResetsFailureStreak(t *testing.T) {
	b := NewMicroBreaker(3, time.Hour)

	b.OnFailure()
	b.OnFailure()
	b.OnSuccess()
	b.OnFailure()
	b.OnFailure()

	assert.True(t, b.Ready(), "the streak restarted after a success")
}

func TestBreakerAllowsSingleProbeAfterWindow(t *testing.T) {
	b := NewMicroBreaker(1, 10*time.Millisecond)

	b.OnFailure()
	assert.False(t, b.TryAcquire())

	time.Sleep(20 * time.Millisecond)

	assert.True(t, b.TryAcquire(), "open window elapsed, one probe allowed")
	assert.False(t, b.TryAcquire(), "only one probe at a time")

	// probe succeeds: fully closed again
	b.OnSuccess()
	assert.True(t, b.TryAcquire())
	assert.True(t, b.TryAcquire())
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	b := NewMicroBreaker(1, 10*time.Millisecond)

	b.OnFailure()
	time.Sleep(20 * time.Millisecond)
	assert.True(t, b.TryAcquire())

	b.OnFailure()
	assert.False(t, b.TryAcquire(), "failed probe restarts the open window")

	time.Sleep(20 * time.Millisecond)
	assert.True(t, b.TryAcquire())
}
