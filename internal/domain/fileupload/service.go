package fileupload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/eureka/eureka/internal/domain/etluser"
	"github.com/eureka/eureka/internal/domain/job"
	"github.com/eureka/eureka/internal/domain/sourceconfig"
	"github.com/eureka/eureka/internal/platform/apperr"
	"github.com/eureka/eureka/internal/platform/blobstore"
	"github.com/eureka/eureka/internal/platform/dsb"
	"github.com/eureka/eureka/internal/platform/engine"
)

type Users interface {
	Get(ctx context.Context, id int64) (*etluser.User, error)
}

// Elements translates a user's data elements into definitions and the ids
// to show.
type Elements interface {
	Definitions(ctx context.Context, userID int64) ([]*engine.PropositionDefinition, []string, error)
}

type Jobs interface {
	Submit(ctx context.Context, user *etluser.User, req *job.JobRequest) (*job.Job, error)
	ListForUser(ctx context.Context, userID int64, desc bool) ([]*job.Job, error)
	Latest(ctx context.Context, userID int64) ([]*job.Job, error)
}

// Blobs stores uploaded spreadsheets in a source configuration's data
// directory.
type Blobs interface {
	Save(ctx context.Context, dir, fileName string, content io.Reader) (*blobstore.Blob, error)
}

// Defaults name the source configuration and destination uploads run
// against.
type Defaults struct {
	SourceConfigID string
	DestinationID  string
}

type Service struct {
	uploads  Repository
	users    Users
	elements Elements
	jobs     Jobs
	blobs    Blobs
	defaults Defaults
}

func NewService(uploads Repository, users Users, elements Elements, jobs Jobs, defaults Defaults) *Service {
	return &Service{uploads: uploads, users: users, elements: elements, jobs: jobs, defaults: defaults}
}

// WithBlobs enables Upload.
func (s *Service) WithBlobs(b Blobs) *Service {
	s.blobs = b
	return s
}

// Upload stores a spreadsheet and then processes it as Add does.
func (s *Service) Upload(ctx context.Context, userID int64, fileName string, content io.Reader) (*job.Job, error) {
	if s.blobs == nil {
		return nil, fmt.Errorf("uploads are not enabled")
	}
	if _, err := s.users.Get(ctx, userID); err != nil {
		return nil, err
	}
	blob, err := s.blobs.Save(ctx, s.defaults.SourceConfigID, fileName, content)
	if err != nil {
		if errors.Is(err, blobstore.ErrMissingFileName) || errors.Is(err, blobstore.ErrInvalidContentType) {
			return nil, apperr.New(apperr.ErrInvalid, err.Error())
		}
		return nil, err
	}
	return s.Add(ctx, &AddRequest{UserID: userID, Location: blob.Name})
}

// Add records an upload and submits a job that processes it with the
// user's data elements.
func (s *Service) Add(ctx context.Context, req *AddRequest) (*job.Job, error) {
	if strings.TrimSpace(req.Location) == "" {
		return nil, apperr.New(apperr.ErrInvalid, "Upload location must be specified")
	}
	if err := dsb.CheckFilename(req.Location); err != nil {
		return nil, apperr.Newf(apperr.ErrInvalid, "Invalid upload location: %v", err)
	}
	if s.defaults.DestinationID == "" {
		return nil, fmt.Errorf("no default destination configured")
	}
	user, err := s.users.Get(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if err := s.uploads.Create(ctx, &FileUpload{UserID: user.ID, Location: req.Location}); err != nil {
		return nil, fmt.Errorf("record upload: %w", err)
	}
	defs, toShow, err := s.elements.Definitions(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return s.jobs.Submit(ctx, user, &job.JobRequest{
		JobSpec: &job.JobSpec{
			SourceConfigID: s.defaults.SourceConfigID,
			DestinationID:  s.defaults.DestinationID,
			UpdateData:     true,
			Prompts: &sourceconfig.SourceConfig{
				ID: s.defaults.SourceConfigID,
				DataSourceBackends: []sourceconfig.Section{{
					ID:      dsb.BackendID,
					Options: []sourceconfig.Option{{Name: "filename", Value: req.Location}},
				}},
			},
		},
		UserPropositions:     defs,
		PropositionIDsToShow: toShow,
	})
}

// List returns the user's jobs.
func (s *Service) List(ctx context.Context, userID int64) ([]*job.Job, error) {
	if _, err := s.users.Get(ctx, userID); err != nil {
		return nil, err
	}
	return s.jobs.ListForUser(ctx, userID, false)
}

// Status reports how far the user's latest upload has got.
func (s *Service) Status(ctx context.Context, userID int64) (*JobInfo, error) {
	if _, err := s.users.Get(ctx, userID); err != nil {
		return nil, err
	}
	upload, err := s.uploads.Latest(ctx, userID)
	if err != nil {
		return nil, err
	}
	latest, err := s.jobs.Latest(ctx, userID)
	if err != nil {
		return nil, err
	}
	info := &JobInfo{FileUpload: upload, TotalSteps: TotalSteps}
	if len(latest) > 0 {
		info.Job = latest[0]
	}
	info.CurrentStep = currentStep(info)
	return info, nil
}

func currentStep(info *JobInfo) int {
	if info.Job == nil {
		if info.FileUpload != nil {
			return StepUploaded
		}
		return StepNone
	}
	if n := len(info.Job.JobEvents); n > 0 {
		switch info.Job.JobEvents[n-1].Status {
		case job.StatusCompleted, job.StatusFailed:
			return StepFinished
		case job.StatusStarted, job.StatusWarning, job.StatusError:
			return StepProcessing
		}
	}
	return StepUploaded
}
