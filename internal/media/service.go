// Package media prepares message attachments: it pushes blobs to the
// object store, derives thumbnails for images and asks the duration probe
// about voice clips. A failed upload is reported to the uploader over the
// live channel and never leaves a half-written message behind.
package media

import (
	"bytes"
	"context"
	"image"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourorg/pairchat/internal/apperr"
	"github.com/yourorg/pairchat/internal/delivery"
	"github.com/yourorg/pairchat/internal/hub"
	"github.com/yourorg/pairchat/internal/models"
)

// BlobStore is the slice of the object store this package needs.
type BlobStore interface {
	Upload(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// DurationProber reports the length of a voice clip, nil when unknown.
type DurationProber interface {
	Duration(ctx context.Context, mediaURL string) *float64
}

type Service struct {
	blobs    BlobStore
	prober   DurationProber
	notifier *delivery.Notifier
	maxBytes int64
	log      *zap.SugaredLogger
}

func NewService(blobs BlobStore, prober DurationProber, notifier *delivery.Notifier, maxBytes int64, log *zap.SugaredLogger) *Service {
	if maxBytes <= 0 {
		maxBytes = 25 << 20
	}
	return &Service{blobs: blobs, prober: prober, notifier: notifier, maxBytes: maxBytes, log: log}
}

// UploadAttachment stores an image or generic file for a conversation and
// returns the payload to embed in the message. Images get a best-effort
// thumbnail next to the original.
func (s *Service) UploadAttachment(ctx context.Context, userID int64, convID, filename, contentType string, data []byte) (*models.FilePayload, error) {
	if err := s.check(filename, data); err != nil {
		return nil, err
	}
	key := objectKey(convID, filename)
	url, err := s.blobs.Upload(ctx, key, contentType, data)
	if err != nil {
		s.reportFailure(ctx, userID, filename, err)
		return nil, apperr.Internalf("upload %s: %v", filename, err)
	}

	payload := &models.FilePayload{
		URL:         url,
		Name:        filename,
		ContentType: contentType,
		Size:        int64(len(data)),
	}

	if strings.HasPrefix(contentType, "image/") {
		if thumb, err := thumbnailJPEG(data); err == nil {
			thumbURL, err := s.blobs.Upload(ctx, key+"_thumb.jpg", "image/jpeg", thumb)
			if err == nil {
				payload.Thumbnail = thumbURL
			} else {
				s.log.Warnw("thumbnail upload failed", "key", key, "err", err)
			}
		} else {
			s.log.Debugw("thumbnail skipped", "file", filename, "err", err)
		}
	}
	return payload, nil
}

// UploadVoice stores a voice clip and probes its duration. An unreachable
// probe yields a clip without a duration, not an error.
func (s *Service) UploadVoice(ctx context.Context, userID int64, convID, filename, contentType string, data []byte) (*models.VoicePayload, error) {
	if err := s.check(filename, data); err != nil {
		return nil, err
	}
	key := objectKey(convID, filename)
	url, err := s.blobs.Upload(ctx, key, contentType, data)
	if err != nil {
		s.reportFailure(ctx, userID, filename, err)
		return nil, apperr.Internalf("upload %s: %v", filename, err)
	}
	payload := &models.VoicePayload{URL: url}
	if s.prober != nil {
		payload.DurationSec = s.prober.Duration(ctx, url)
	}
	return payload, nil
}

func (s *Service) check(filename string, data []byte) error {
	if strings.TrimSpace(filename) == "" {
		return apperr.Validationf("filename is required")
	}
	if len(data) == 0 {
		return apperr.Validationf("empty upload")
	}
	if int64(len(data)) > s.maxBytes {
		return apperr.Validationf("upload exceeds %d bytes", s.maxBytes)
	}
	return nil
}

func (s *Service) reportFailure(ctx context.Context, userID int64, filename string, err error) {
	s.log.Errorw("media upload failed", "user", userID, "file", filename, "err", err)
	s.notifier.UserEvent(ctx, userID, hub.Event{
		Type: hub.EventMediaUploadFailed,
		Payload: map[string]any{
			"file":  filename,
			"error": "upload failed",
			"at":    time.Now().UTC(),
		},
	})
}

func objectKey(convID, filename string) string {
	return "conv/" + convID + "/" + uuid.NewString() + "_" + filename
}

func thumbnailJPEG(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	thumb := imaging.Resize(img, 320, 0, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
