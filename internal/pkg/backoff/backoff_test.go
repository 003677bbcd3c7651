package backoff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJittered_Bounds(t *testing.T) {
	base, max := 10*time.Millisecond, 40*time.Millisecond
	for attempt := 0; attempt <= 6; attempt++ {
		for i := 0; i < 50; i++ {
			d := Jittered(attempt, base, max)
			assert.GreaterOrEqual(t, d, base/10)
			assert.LessOrEqual(t, d, max)
		}
	}
}

func TestJittered_FirstAttemptCappedAtBase(t *testing.T) {
	for i := 0; i < 50; i++ {
		assert.LessOrEqual(t, Jittered(1, 8*time.Millisecond, time.Second), 8*time.Millisecond)
	}
}

func TestSleep(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))
	assert.NoError(t, Sleep(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}
