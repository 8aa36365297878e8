package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/snapsell/api/internal/client"
	"github.com/snapsell/api/internal/model"
)

// ImageTypes maps accepted upload content types to file extensions.
var ImageTypes = map[string]string{
	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
	"image/png":  "png",
	"image/webp": "webp",
}

// PreviewURLExpiry bounds the presigned preview link of an upload.
const PreviewURLExpiry = time.Hour

// UploadService stages input images in object storage
type UploadService struct {
	storage client.StorageClient
}

func NewUploadService(storage client.StorageClient) *UploadService {
	return &UploadService{
		storage: storage,
	}
}

// UploadImage stores an input image under the user's prefix and returns
// a reference usable as imageUrl or selfieUrl.
func (s *UploadService) UploadImage(ctx context.Context, userID, contentType string, file io.Reader, size int64) (*model.UploadImageResponse, error) {
	ext, ok := ImageTypes[strings.ToLower(contentType)]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported content type %q", ErrInvalidRequest, contentType)
	}

	id := uuid.New().String()
	key := fmt.Sprintf("uploads/%s/%s.%s", userID, id, ext)

	fileURL, err := s.storage.Upload(ctx, key, file, contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to upload image: %w", err)
	}

	// Private buckets serve the original only through a presigned link.
	// A failed presign leaves the preview empty.
	previewURL, _ := s.storage.GetSignedURL(ctx, key, PreviewURLExpiry)

	return &model.UploadImageResponse{
		ID:          id,
		FileURL:     fileURL,
		PreviewURL:  previewURL,
		ContentType: contentType,
		Size:        size,
		CreatedAt:   time.Now(),
	}, nil
}

// DeleteImage removes a staged image. Only the owner's prefix is touched.
func (s *UploadService) DeleteImage(ctx context.Context, userID, imageID string) error {
	if _, err := uuid.Parse(imageID); err != nil {
		return fmt.Errorf("%w: invalid image id", ErrInvalidRequest)
	}
	for _, ext := range []string{"jpg", "png", "webp"} {
		if err := s.storage.Delete(ctx, fmt.Sprintf("uploads/%s/%s.%s", userID, imageID, ext)); err != nil {
			return err
		}
	}
	return nil
}
