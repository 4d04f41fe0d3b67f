package job

import (
	"time"

	"github.com/eureka/eureka/internal/domain/sourceconfig"
	"github.com/eureka/eureka/internal/platform/engine"
)

type Status string

const (
	StatusStarted   Status = "STARTED"
	StatusCompleted Status = "COMPLETED"
	StatusError     Status = "ERROR"
	StatusFailed    Status = "FAILED"
	StatusWarning   Status = "WARNING"
)

// Terminal reports whether no further events follow s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusStarted, StatusCompleted, StatusError, StatusFailed, StatusWarning:
		return st, true
	}
	return "", false
}

type Job struct {
	ID             int64       `json:"id"`
	SourceConfigID string      `json:"sourceConfigId"`
	DestinationID  string      `json:"destinationId"`
	Name           string      `json:"name,omitempty"`
	UserID         int64       `json:"userId"`
	Username       string      `json:"username"`
	Created        time.Time   `json:"created"`
	State          Status      `json:"state,omitempty"`
	JobEvents      []*JobEvent `json:"jobEvents"`
}

type JobEvent struct {
	ID                  int64     `json:"id"`
	JobID               int64     `json:"-"`
	Status              Status    `json:"status"`
	Message             string    `json:"message,omitempty"`
	ExceptionStackTrace []string  `json:"exceptionStackTrace,omitempty"`
	TimeStamp           time.Time `json:"timeStamp"`
}

// Filter selects jobs. Zero fields match everything.
type Filter struct {
	JobID  *int64
	UserID *int64
	State  Status
	From   *time.Time
	To     *time.Time
	// Latest keeps only the most recent job.
	Latest bool
	// Unfinished keeps jobs whose latest event is not terminal.
	Unfinished bool
	Desc       bool
}

// JobSpec is the submitted description of a job.
type JobSpec struct {
	SourceConfigID        string                     `json:"sourceConfigId"`
	DestinationID         string                     `json:"destinationId"`
	Name                  string                     `json:"name,omitempty"`
	DateRangePhenotypeKey string                     `json:"dateRangePhenotypeKey,omitempty"`
	EarliestDate          *time.Time                 `json:"earliestDate,omitempty"`
	EarliestDateSide      string                     `json:"earliestDateSide,omitempty"`
	LatestDate            *time.Time                 `json:"latestDate,omitempty"`
	LatestDateSide        string                     `json:"latestDateSide,omitempty"`
	UpdateData            bool                       `json:"updateData"`
	Prompts               *sourceconfig.SourceConfig `json:"prompts,omitempty"`
}

// JobRequest is the body of a job submission.
type JobRequest struct {
	JobSpec              *JobSpec                        `json:"jobSpec"`
	UserPropositions     []*engine.PropositionDefinition `json:"userPropositions"`
	PropositionIDsToShow []string                        `json:"propositionIdsToShow"`
}

// TaskRequest is what the task queue needs to run a created job.
type TaskRequest struct {
	JobID                int64
	Username             string
	Definitions          []*engine.PropositionDefinition
	PropositionIDsToShow []string
	Filter               *engine.DateTimeFilter
	UpdateData           bool
	Prompts              sourceconfig.Prompts
}

// Statistics is the response of the stats endpoints.
type Statistics struct {
	NumberOfKeys      int                 `json:"numberOfKeys"`
	Counts            map[string]int      `json:"counts"`
	ChildrenToParents map[string][]string `json:"childrenToParents"`
}
