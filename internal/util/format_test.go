package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatifyZeroTotal(t *testing.T) {
	progress, speed, eta := Statify(0, 0, time.Now())
	assert.Zero(t, progress)
	assert.Zero(t, speed)
	assert.Equal(t, "00:00:00", eta)
}

func TestStatifyProgressClampedToOne(t *testing.T) {
	progress, _, _ := Statify(200, 100, time.Now().Add(-time.Second))
	assert.LessOrEqual(t, progress, float32(1))
}

func TestTimeify(t *testing.T) {
	assert.Equal(t, "00:00:00", Timeify(0))
	assert.Equal(t, "01:01:01", Timeify(3661))
	assert.Equal(t, "00:00:00", Timeify(-5))
}

func TestSizeify(t *testing.T) {
	assert.Equal(t, "512.00 KiB", Sizeify(512*KiB))
	assert.Equal(t, "1.00 MiB", Sizeify(MiB))
	assert.Equal(t, "2.00 GiB", Sizeify(2*GiB))
	assert.Equal(t, "1.00 TiB", Sizeify(TiB))
}
