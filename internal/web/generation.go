package web

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"melodia/internal/apperr"
	"melodia/internal/generation"
	"melodia/internal/model"
)

type lyricsRequest struct {
	Prompt string `json:"prompt"`
}

type wavRequest struct {
	AudioID string `json:"audio_id"`
}

func (h *Handlers) generate(c *gin.Context) {
	var req generation.Request
	if !bindJSON(c, h.Logger, &req) {
		return
	}

	handle, err := h.Generation.Generate(c.Request.Context(), userID(c), req)
	if err != nil {
		sendError(c, h.Logger, err)
		return
	}
	sendSuccess(c, http.StatusAccepted, gin.H{"jobId": handle})
}

func (h *Handlers) extend(c *gin.Context) {
	var req generation.ExtendRequest
	if !bindJSON(c, h.Logger, &req) {
		return
	}

	handle, err := h.Generation.Extend(c.Request.Context(), userID(c), req)
	if err != nil {
		sendError(c, h.Logger, err)
		return
	}
	sendSuccess(c, http.StatusAccepted, gin.H{"jobId": handle})
}

func (h *Handlers) taskStatus(c *gin.Context) {
	jobID := strings.TrimSpace(c.Param("jobId"))
	if jobID == "" {
		sendError(c, h.Logger, apperr.Validation("invalid request", []string{"jobId: is required"}))
		return
	}

	status, err := h.Generation.Status(c.Request.Context(), generation.JobHandle(jobID))
	if err != nil {
		sendError(c, h.Logger, err)
		return
	}
	sendSuccess(c, http.StatusOK, status)
}

func (h *Handlers) cancel(c *gin.Context) {
	cancelled := h.Generation.Cancel(userID(c))
	sendSuccess(c, http.StatusOK, gin.H{"cancelled": cancelled})
}

func (h *Handlers) generateLyrics(c *gin.Context) {
	var req lyricsRequest
	if !bindJSON(c, h.Logger, &req) {
		return
	}

	resp, err := h.Tools.GenerateLyrics(c.Request.Context(), req.Prompt)
	if err != nil {
		sendError(c, h.Logger, err)
		return
	}
	sendSuccess(c, http.StatusOK, resp)
}

func (h *Handlers) convertWav(c *gin.Context) {
	var req wavRequest
	if !bindJSON(c, h.Logger, &req) {
		return
	}

	resp, err := h.Tools.ConvertWav(c.Request.Context(), req.AudioID)
	if err != nil {
		sendError(c, h.Logger, err)
		return
	}
	sendSuccess(c, http.StatusOK, resp)
}

func (h *Handlers) listTracks(c *gin.Context) {
	tracks, err := h.Tracks.ListByUser(c.Request.Context(), userID(c), listLimit(c))
	if err != nil {
		sendError(c, h.Logger, err)
		return
	}
	if tracks == nil {
		tracks = []*model.TrackRecord{}
	}
	sendSuccess(c, http.StatusOK, tracks)
}
