package consumer

import (
	"context"

	"github.com/giobyte8/thumbcache/internal/models"
)

type MessageConsumer interface {
	Start(ctx context.Context) error

	Stop()
}

// ThumbsProcessor serves the requests a consumer receives.
type ThumbsProcessor interface {
	ProcessGenRequest(ctx context.Context, req models.ThumbRequest) (*models.Thumbnail, error)
	ProcessDelRequest(ctx context.Context, req models.ThumbDelRequest) error
}
