// internal/workers/profile/update-profile/models.go
package updateprofile

import "encoding/json"

// Input is the process variable set written by queue.ZeebeQueue.
type Input struct {
	TaskID       string          `json:"taskId"`
	SubjectID    string          `json:"subjectId"`
	SurveyAnswer json.RawMessage `json:"surveyAnswer"`
}

type Output struct {
	TaskID          string            `json:"taskId"`
	SubjectID       string            `json:"subjectId"`
	Updated         bool              `json:"profileUpdated"`
	FailureRecorded bool              `json:"failureRecorded"`
	ErrorCode       string            `json:"errorCode,omitempty"`
	Steps           map[string]string `json:"steps,omitempty"`
}
