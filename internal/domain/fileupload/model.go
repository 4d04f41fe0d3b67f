package fileupload

import (
	"time"

	"github.com/eureka/eureka/internal/domain/job"
)

// FileUpload records a spreadsheet a user handed in for processing.
type FileUpload struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	Location  string    `json:"location"`
	Timestamp time.Time `json:"timestamp"`
}

// Progress of a user's latest upload.
const (
	StepNone = iota
	StepUploaded
	StepProcessing
	StepFinished

	TotalSteps = StepFinished
)

// JobInfo is the upload status page: the user's latest job and upload.
type JobInfo struct {
	Job         *job.Job    `json:"job"`
	FileUpload  *FileUpload `json:"fileUpload"`
	CurrentStep int         `json:"currentStep"`
	TotalSteps  int         `json:"totalSteps"`
}

// AddRequest is the body of POST /job/add.
type AddRequest struct {
	UserID   int64  `json:"userId"`
	Location string `json:"location"`
}
