// internal/workers/profile/sweep-failures/models.go
package sweepfailures

type Output struct {
	Outstanding int      `json:"outstandingFailures"`
	Enqueued    int      `json:"recoveriesEnqueued"`
	TaskIDs     []string `json:"recoveryTaskIds"`
}
