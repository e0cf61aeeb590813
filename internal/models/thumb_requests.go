package models

import (
	"encoding/json"

	"github.com/google/uuid"
)

type ThumbRequest struct {
	ThumbRequestId uuid.UUID `json:"thumbRequestId"`

	// Path to original media file, relative to the originals storage
	FilePath string `json:"filePath"`

	// Requested dimensions, e.g. "300x200", "300" or "x200"
	Geometry string `json:"geometry"`

	// Rendering options, merged with the configured defaults
	Options map[string]any `json:"options,omitempty"`
}

type ThumbDelRequest struct {
	ThumbRequestId uuid.UUID `json:"thumbRequestId"`
	FilePath       string    `json:"filePath"`

	// When false only cache records are dropped, the original file stays.
	// Omitted means true.
	DeleteFile bool `json:"deleteFile"`
}

func (r *ThumbDelRequest) UnmarshalJSON(data []byte) error {
	type plain ThumbDelRequest
	req := plain{DeleteFile: true}
	if err := json.Unmarshal(data, &req); err != nil {
		return err
	}
	*r = ThumbDelRequest(req)
	return nil
}

// ThumbResponse is published back to the requester when a request
// carries a reply-to queue.
type ThumbResponse struct {
	ThumbRequestId uuid.UUID  `json:"thumbRequestId"`
	Thumbnail      *Thumbnail `json:"thumbnail,omitempty"`
	Error          string     `json:"error,omitempty"`
}
