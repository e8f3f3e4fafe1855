// internal/common/observability/metrics_test.go
package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNilObservabilityIsNoOp(t *testing.T) {
	var o *Observability
	assert.NotPanics(t, func() {
		o.RecordRun(context.Background(), "update-profile", "success", time.Second)
	})
	assert.NoError(t, o.Shutdown(context.Background()))
}

func TestRecordRun(t *testing.T) {
	o, err := New("survey-worker-test")
	if err != nil {
		t.Skipf("meter provider unavailable: %v", err)
	}
	assert.NotPanics(t, func() {
		o.RecordRun(context.Background(), "recover-profile", "recovered", 250*time.Millisecond)
	})
	assert.NoError(t, o.Shutdown(context.Background()))
}
