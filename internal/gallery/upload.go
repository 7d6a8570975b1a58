package gallery

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/evlasova/capgallery/internal/errs"
)

// Upload constraints mirrored from the browser client: JPEG/PNG only, 12 MiB cap.
const MaxUploadBytes = 12 << 20

var allowedMIME = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// UploadFile is one image selected for upload.
type UploadFile struct {
	Name string
	MIME string
	Data []byte
}

// ValidateUpload runs the client-local pre-checks before any network call.
func ValidateUpload(f UploadFile) error {
	if !allowedMIME[f.MIME] {
		return fmt.Errorf("%w: invalid file type %q for %s", errs.ErrValidation, f.MIME, f.Name)
	}
	if len(f.Data) > MaxUploadBytes {
		return fmt.Errorf("%w: file too large: %s", errs.ErrValidation, f.Name)
	}
	if len(f.Data) == 0 {
		return fmt.Errorf("%w: empty file: %s", errs.ErrValidation, f.Name)
	}
	return nil
}

// UploadState is one step of a file's upload lifecycle.
type UploadState string

const (
	UploadPending   UploadState = "pending"
	UploadUploading UploadState = "uploading"
	UploadSuccess   UploadState = "success"
	UploadError     UploadState = "error"
)

// UploadEvent is a discrete per-file state transition.
type UploadEvent struct {
	Name    string
	State   UploadState
	Message string
}

// UploadAll uploads files sequentially, streaming per-file transitions
// (pending -> uploading -> success|error) over the returned channel. One
// file's failure does not stop the batch. After the batch completes the
// collection is re-fetched once; the channel closes when everything is done.
func (s *Service) UploadAll(ctx context.Context, files []UploadFile) <-chan UploadEvent {
	events := make(chan UploadEvent, len(files)*3+1)
	go func() {
		defer close(events)
		uploaded := 0
		for _, f := range files {
			events <- UploadEvent{Name: f.Name, State: UploadPending, Message: "waiting"}
			events <- UploadEvent{Name: f.Name, State: UploadUploading, Message: "uploading"}
			if err := s.uploadOne(ctx, f); err != nil {
				events <- UploadEvent{Name: f.Name, State: UploadError, Message: err.Error()}
				continue
			}
			uploaded++
			events <- UploadEvent{Name: f.Name, State: UploadSuccess, Message: "upload complete"}
		}
		if uploaded > 0 {
			if err := s.Fetch(ctx); err != nil {
				s.log.Debug("reload after upload batch failed", zap.Error(err))
			}
		}
	}()
	return events
}
