// internal/common/camunda/client_test.go
package camunda

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InternetOfUs/app-survey/internal/common/errors"
)

func newTestClient() *Client {
	return &Client{config: &ClientConfig{RetryConfig: &RetryConfig{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   2 * time.Millisecond,
	}}}
}

func TestExecuteWithRetry_RetriesTransientErrors(t *testing.T) {
	calls := 0
	out, err := newTestClient().ExecuteWithRetry(context.Background(), func(context.Context) (interface{}, error) {
		calls++
		if calls < 3 {
			return nil, stderrors.New("rpc error: code = Unavailable")
		}
		return "ok", nil
	}, "create-instance")

	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, calls)
}

func TestExecuteWithRetry_GivesUp(t *testing.T) {
	calls := 0
	_, err := newTestClient().ExecuteWithRetry(context.Background(), func(context.Context) (interface{}, error) {
		calls++
		return nil, stderrors.New("deadline exceeded")
	}, "create-instance")

	assert.Equal(t, 3, calls)
	assert.True(t, errors.IsCode(err, errors.ErrCodeQueueUnavailable))
}

func TestExecuteWithRetry_PermanentError(t *testing.T) {
	calls := 0
	_, err := newTestClient().ExecuteWithRetry(context.Background(), func(context.Context) (interface{}, error) {
		calls++
		return nil, stderrors.New("NOT_FOUND: no process with id survey-profile-update")
	}, "create-instance")

	assert.Equal(t, 1, calls)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInternal))
}
