package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/giobyte8/thumbcache/internal/models"
	"github.com/giobyte8/thumbcache/internal/options"
)

// ProcessGenRequest serves a thumbnail generation request received from
// the message broker.
func (s *ThumbnailsService) ProcessGenRequest(
	ctx context.Context,
	req models.ThumbRequest,
) (*models.Thumbnail, error) {
	slog.Debug(
		"Processing thumbnail request",
		"requestId", req.ThumbRequestId,
		"filePath", req.FilePath,
		"geometry", req.Geometry,
	)

	if req.Geometry == "" {
		return nil, errors.New("thumbnail request has no geometry")
	}

	return s.GetThumbnail(ctx, req.FilePath, req.Geometry, options.Options(req.Options))
}

// ProcessDelRequest serves a deletion request received from the
// message broker.
func (s *ThumbnailsService) ProcessDelRequest(
	ctx context.Context,
	req models.ThumbDelRequest,
) error {
	slog.Debug(
		"Processing delete request",
		"requestId", req.ThumbRequestId,
		"filePath", req.FilePath,
		"deleteFile", req.DeleteFile,
	)

	if req.FilePath == "" {
		return errors.New("delete request has no file path")
	}

	return s.Delete(ctx, req.FilePath, req.DeleteFile)
}
