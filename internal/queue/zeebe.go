// internal/queue/zeebe.go
package queue

import (
	"context"
	"fmt"

	"github.com/InternetOfUs/app-survey/internal/common/logger"
)

// InstanceCreator starts Zeebe process instances; *camunda.Client implements it.
type InstanceCreator interface {
	CreateInstance(ctx context.Context, processID string, variables interface{}) (int64, error)
}

// ZeebeQueue starts one process instance per task. The job workers registered for the
// process tasks execute the unit of work.
type ZeebeQueue struct {
	client     InstanceCreator
	processIDs map[Kind]string
	log        logger.Logger
}

func NewZeebeQueue(client InstanceCreator, processIDs map[Kind]string, log logger.Logger) *ZeebeQueue {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &ZeebeQueue{
		client:     client,
		processIDs: processIDs,
		log:        log.WithFields(map[string]interface{}{"component": "zeebe-queue"}),
	}
}

func (q *ZeebeQueue) Enqueue(ctx context.Context, task Task) (string, error) {
	processID, ok := q.processIDs[task.Kind]
	if !ok || processID == "" {
		return "", fmt.Errorf("%w: %s", ErrUnknownKind, task.Kind)
	}

	key, err := q.client.CreateInstance(ctx, processID, task)
	if err != nil {
		return "", err
	}

	q.log.Info("Process instance created", map[string]interface{}{
		"taskId":             task.ID,
		"kind":               string(task.Kind),
		"subjectId":          task.SubjectID,
		"processId":          processID,
		"processInstanceKey": key,
	})
	return task.ID, nil
}

// Close is a no-op; the Zeebe client is owned by the caller.
func (q *ZeebeQueue) Close(context.Context) error { return nil }
