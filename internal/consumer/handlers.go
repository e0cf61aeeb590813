package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/giobyte8/thumbcache/internal/models"
	"github.com/giobyte8/thumbcache/internal/telemetry/metrics"
)

// ErrMalformedMessage is returned for deliveries whose body cannot be
// decoded. They are dropped without a reply.
var ErrMalformedMessage = errors.New("malformed message")

// handlerFunc processes one message body. A non nil response is sent
// back when the delivery asks for a reply, even if err is set.
type handlerFunc func(ctx context.Context, body []byte) (*models.ThumbResponse, error)

func (c *AMQPConsumer) handleGenRequest(
	ctx context.Context,
	body []byte,
) (*models.ThumbResponse, error) {
	var req models.ThumbRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	c.telemetry.Metrics().Increment(metrics.ThumbGenRequestReceived)

	resp := &models.ThumbResponse{ThumbRequestId: req.ThumbRequestId}
	thumb, err := c.processor.ProcessGenRequest(ctx, req)
	if err != nil {
		resp.Error = err.Error()
		return resp, fmt.Errorf("thumbnail request for %s failed: %w", req.FilePath, err)
	}

	resp.Thumbnail = thumb
	return resp, nil
}

func (c *AMQPConsumer) handleDelRequest(
	ctx context.Context,
	body []byte,
) (*models.ThumbResponse, error) {
	var req models.ThumbDelRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	c.telemetry.Metrics().Increment(metrics.ThumbDelRequestReceived)

	resp := &models.ThumbResponse{ThumbRequestId: req.ThumbRequestId}
	if err := c.processor.ProcessDelRequest(ctx, req); err != nil {
		resp.Error = err.Error()
		return resp, fmt.Errorf("delete request for %s failed: %w", req.FilePath, err)
	}

	return resp, nil
}
