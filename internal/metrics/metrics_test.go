package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestFilesProcessedIncrements(t *testing.T) {
	FilesProcessed.Reset()
	FilesProcessed.WithLabelValues("success").Inc()
	FilesProcessed.WithLabelValues("success").Inc()
	FilesProcessed.WithLabelValues("failed").Inc()

	assert.Equal(t, float64(2), testutil.ToFloat64(FilesProcessed.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(FilesProcessed.WithLabelValues("failed")))
}

func TestRegistryGatherSucceeds(t *testing.T) {
	_, err := Registry.Gather()
	assert.NoError(t, err)
}
