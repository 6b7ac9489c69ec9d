package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/denisAlshanov/tubegrab/internal/api/middleware"
	"github.com/denisAlshanov/tubegrab/internal/models"
	"github.com/denisAlshanov/tubegrab/internal/services/media"
	"github.com/denisAlshanov/tubegrab/internal/utils"
)

type VideoHandler struct {
	resolver  *media.Resolver
	transfers *media.TransferManager
}

func NewVideoHandler(resolver *media.Resolver, transfers *media.TransferManager) *VideoHandler {
	return &VideoHandler{
		resolver:  resolver,
		transfers: transfers,
	}
}

// GetInfo godoc
// @Summary Get video information
// @Description Resolve title, duration, thumbnail and the available formats of a video
// @Tags video
// @Accept json
// @Produce json
// @Param request body models.VideoRequest true "Video URL"
// @Success 200 {object} models.InfoResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Failure 429 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /api/info [post]
// @Security ApiKeyAuth
func (h *VideoHandler) GetInfo(c *gin.Context) {
	info, ok := h.resolveRequest(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, models.InfoResponse{
		Info: models.VideoInfo{
			Title:     info.Title,
			Duration:  info.Duration,
			Thumbnail: info.Thumbnail,
			Formats:   info.Formats,
		},
	})
}

// GetThumbnails godoc
// @Summary List video thumbnails
// @Description List the thumbnails of a video, widest first
// @Tags video
// @Accept json
// @Produce json
// @Param request body models.VideoRequest true "Video URL"
// @Success 200 {object} models.ThumbnailsResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Failure 429 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /api/thumbnails [post]
// @Security ApiKeyAuth
func (h *VideoHandler) GetThumbnails(c *gin.Context) {
	info, ok := h.resolveRequest(c)
	if !ok {
		return
	}

	thumbnails := make([]models.ThumbnailItem, len(info.Thumbnails))
	for i, thumb := range info.Thumbnails {
		thumbnails[i] = models.ThumbnailItem{URL: thumb.URL, Quality: thumb.Quality}
	}

	c.JSON(http.StatusOK, models.ThumbnailsResponse{Thumbnails: thumbnails})
}

// GetSubtitles godoc
// @Summary List subtitle tracks
// @Description List the uploaded subtitles and automatic captions of a video
// @Tags video
// @Accept json
// @Produce json
// @Param request body models.VideoRequest true "Video URL"
// @Success 200 {object} models.SubtitlesResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Failure 429 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /api/subtitles [post]
// @Security ApiKeyAuth
func (h *VideoHandler) GetSubtitles(c *gin.Context) {
	info, ok := h.resolveRequest(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, models.SubtitlesResponse{
		Subtitles:         info.Subtitles,
		AutomaticCaptions: info.AutomaticCaptions,
	})
}

// Download godoc
// @Summary Download a video or its audio
// @Description Stream the video as mp4, or its audio transcoded to mp3. The body is streamed as it arrives; a failure after the first byte aborts the connection.
// @Tags video
// @Accept json,x-www-form-urlencoded
// @Produce audio/mpeg,video/mp4
// @Param request body models.DownloadRequest true "Download request"
// @Success 200 {file} binary "Media stream"
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Failure 413 {object} models.ErrorResponse
// @Failure 429 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /api/download [post]
// @Security ApiKeyAuth
func (h *VideoHandler) Download(c *gin.Context) {
	ctx := c.Request.Context()

	var req models.DownloadRequest
	if !h.bind(c, &req) {
		return
	}

	ref, ok := h.reference(c, req.URL)
	if !ok {
		return
	}

	kind, err := media.ParseMediaKind(req.Format)
	if err != nil {
		h.errorResponse(c, utils.NewInvalidInputError("Invalid format", map[string]interface{}{
			"format":  req.Format,
			"allowed": []string{string(media.KindAudio), string(media.KindVideo)},
		}))
		return
	}

	quality, err := media.ParseQuality(req.Quality)
	if err != nil {
		h.errorResponse(c, utils.NewInvalidInputError("Invalid quality", map[string]interface{}{
			"quality": req.Quality,
			"allowed": []string{string(media.QualityHighest), string(media.QualityLowest)},
		}))
		return
	}

	info, err := h.resolver.Resolve(ctx, ref)
	if err != nil {
		utils.LogError(ctx, "Failed to resolve video for download", err, utils.Fields{
			"url": ref.URL(),
		})
		h.errorResponse(c, utils.NewUpstreamError("Failed to fetch video information"))
		return
	}

	selector := media.Select(kind, quality)
	err = h.transfers.Transfer(ctx, ref, selector, kind, info.Title, media.NewHTTPSink(c.Writer))
	switch {
	case err == nil:
	case errors.Is(err, media.ErrMidStreamFault):
		// The sink already tore the connection down.
		c.Abort()
	default:
		h.errorResponse(c, utils.NewUpstreamError("Download failed"))
	}
}

func (h *VideoHandler) resolveRequest(c *gin.Context) (*media.VideoMetadata, bool) {
	ctx := c.Request.Context()

	var req models.VideoRequest
	if !h.bind(c, &req) {
		return nil, false
	}

	ref, ok := h.reference(c, req.URL)
	if !ok {
		return nil, false
	}

	info, err := h.resolver.Resolve(ctx, ref)
	if err != nil {
		utils.LogError(ctx, "Failed to resolve video", err, utils.Fields{
			"url":  ref.URL(),
			"path": c.Request.URL.Path,
		})
		h.errorResponse(c, utils.NewUpstreamError("Failed to fetch video information"))
		return nil, false
	}

	return info, true
}

// bind accepts JSON or form bodies. An empty body binds to the zero value
// so the missing URL is reported as such.
func (h *VideoHandler) bind(c *gin.Context, obj interface{}) bool {
	err := c.ShouldBind(obj)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}

	if limit, tooLarge := middleware.BodyLimitExceeded(err); tooLarge {
		h.errorResponse(c, utils.NewPayloadTooLargeError(limit))
		return false
	}

	h.errorResponse(c, utils.NewInvalidInputError("Invalid request body", map[string]interface{}{
		"error": err.Error(),
	}))
	return false
}

func (h *VideoHandler) reference(c *gin.Context, raw string) (media.VideoReference, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		h.errorResponse(c, utils.NewMissingURLError())
		return media.VideoReference{}, false
	}

	ref, err := media.Validate(raw)
	if err != nil {
		h.errorResponse(c, utils.NewInvalidURLError(raw))
		return media.VideoReference{}, false
	}
	return ref, true
}

func (h *VideoHandler) errorResponse(c *gin.Context, err *utils.AppError) {
	c.JSON(err.StatusCode, gin.H{
		"error":      err,
		"request_id": c.GetString("request_id"),
		"timestamp":  time.Now().Format(time.RFC3339),
	})
}
