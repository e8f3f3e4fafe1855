// internal/workers/profile/recover-profile/models.go
package recoverprofile

type Input struct {
	TaskID    string `json:"taskId"`
	SubjectID string `json:"subjectId"`
}

type Output struct {
	SubjectID string `json:"subjectId"`
	Outcome   string `json:"recoveryOutcome"`
}
