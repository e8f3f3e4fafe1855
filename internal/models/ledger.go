// internal/models/ledger.go
package models

import (
	"encoding/json"
	"time"
)

// FailedUpdateRecord holds the latest survey answer of a subject whose profile update did
// not complete. There is at most one record per subject.
type FailedUpdateRecord struct {
	SubjectID       string          `json:"subjectId" bson:"subject_id" db:"subject_id"`
	RawSurveyAnswer json.RawMessage `json:"rawSurveyAnswer" bson:"raw_survey_answer" db:"raw_survey_answer"`
	FailureTime     time.Time       `json:"failureTime" bson:"failure_time" db:"failure_time"`
	RetryCount      int             `json:"retryCount" bson:"retry_count" db:"retry_count"`
}

// LastSuccessRecord is the time of the last fully successful update of a subject.
type LastSuccessRecord struct {
	SubjectID      string    `json:"subjectId" bson:"subject_id" db:"subject_id"`
	LastUpdateTime time.Time `json:"lastUpdateTime" bson:"last_update_time" db:"last_update_time"`
}
