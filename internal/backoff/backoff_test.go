package backoff_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"docflow/internal/backoff"
)

func TestConstant(t *testing.T) {
	c := backoff.NewConstant(5 * time.Second)
	for _, attempt := range []int{1, 2, 10} {
		assert.Equal(t, 5*time.Second, c.Delay(attempt))
	}
}

func TestExponentialWithJitter_Bounds(t *testing.T) {
	e := backoff.NewExponentialWithJitter(time.Second, 10*time.Second)

	for attempt := 1; attempt <= 8; attempt++ {
		ceiling := time.Second << (attempt - 1)
		if ceiling > 10*time.Second {
			ceiling = 10 * time.Second
		}
		for i := 0; i < 50; i++ {
			d := e.Delay(attempt)
			assert.GreaterOrEqual(t, d, time.Duration(0))
			assert.LessOrEqual(t, d, ceiling)
		}
	}
}

func TestExponentialWithJitter_ClampsAttempt(t *testing.T) {
	e := backoff.NewExponentialWithJitter(time.Second, time.Minute)
	d := e.Delay(0)
	assert.GreaterOrEqual(t, d, time.Duration(0))
	assert.LessOrEqual(t, d, time.Second)
}
