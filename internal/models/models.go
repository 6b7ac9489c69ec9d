package models

import (
	"encoding/json"

	"github.com/denisAlshanov/tubegrab/internal/utils"
)

// VideoRequest is the body of the metadata endpoints.
type VideoRequest struct {
	URL string `json:"url" form:"url" example:"https://www.youtube.com/watch?v=dQw4w9WgXcQ"`
}

// DownloadRequest is accepted as JSON or as a form post.
type DownloadRequest struct {
	URL     string `json:"url" form:"url" example:"https://www.youtube.com/watch?v=dQw4w9WgXcQ"`
	Format  string `json:"format" form:"format" enums:"audio,video" example:"audio"`
	Quality string `json:"quality,omitempty" form:"quality" enums:"highest,lowest" example:"highest"`
}

type VideoInfo struct {
	Title     string          `json:"title" example:"Never Gonna Give You Up"`
	Duration  string          `json:"duration" example:"3:32"`
	Thumbnail string          `json:"thumbnail" example:"https://i.ytimg.com/vi/dQw4w9WgXcQ/maxresdefault.jpg"`
	Formats   json.RawMessage `json:"formats" swaggertype:"array,object"`
}

type InfoResponse struct {
	Info VideoInfo `json:"info"`
}

type ThumbnailItem struct {
	URL     string `json:"url"`
	Quality string `json:"quality" example:"1280x720"`
}

type ThumbnailsResponse struct {
	Thumbnails []ThumbnailItem `json:"thumbnails"`
}

// SubtitlesResponse passes the upstream track listings through untouched.
type SubtitlesResponse struct {
	Subtitles         json.RawMessage `json:"subtitles" swaggertype:"object"`
	AutomaticCaptions json.RawMessage `json:"automatic_captions" swaggertype:"object"`
}

type ErrorResponse struct {
	Error     utils.AppError `json:"error"`
	RequestID string         `json:"request_id"`
	Timestamp string         `json:"timestamp"`
}

type HealthResponse struct {
	Status    string                   `json:"status"`
	Timestamp string                   `json:"timestamp"`
	Version   string                   `json:"version"`
	Services  map[string]ServiceHealth `json:"services"`
}

type ServiceHealth struct {
	Status       string `json:"status"`
	ResponseTime string `json:"response_time,omitempty"`
	Error        string `json:"error,omitempty"`
}
