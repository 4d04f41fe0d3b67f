package fileupload

import "context"

type Repository interface {
	Create(ctx context.Context, f *FileUpload) error
	// Latest returns the user's most recent upload, or nil when there is none.
	Latest(ctx context.Context, userID int64) (*FileUpload, error)
}
