package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	cerrors "github.com/yunfie-twitter/ytdlp-api/internal/errors"
	"github.com/yunfie-twitter/ytdlp-api/internal/model"
	"github.com/yunfie-twitter/ytdlp-api/internal/store"
	"github.com/yunfie-twitter/ytdlp-api/internal/subprocess"
)

// handleCreateTask is POST /api/download: validate, insert into C1, enqueue
// into C4 (spec.md §6's "Create task" row).
func (s *Server) handleCreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, cerrors.New(cerrors.KindValidation, "INVALID_REQUEST", err))
		return
	}
	if !isValidSourceURL(req.URL) {
		s.writeError(c, cerrors.New(cerrors.KindValidation, "INVALID_URL", nil))
		return
	}
	if req.Format != "" && s.formats != nil {
		if _, ok := s.formats.Get(req.Format); !ok {
			s.writeError(c, cerrors.New(cerrors.KindValidation, "INVALID_FORMAT", nil))
			return
		}
	}

	if req.ClientID != "" {
		existing, err := s.tasks.FindActiveByClientID(c.Request.Context(), req.ClientID)
		if err == nil {
			c.JSON(http.StatusAccepted, newTaskResponse(existing))
			return
		}
		if err != store.ErrNotFound {
			s.writeError(c, cerrors.New(cerrors.KindExternal, "TASK_STORE_ERROR", err))
			return
		}
	}

	now := time.Now()
	task := model.Task{
		ID:             uuid.NewString(),
		SourceURL:      req.URL,
		Container:      req.Format,
		FormatCode:     req.FormatCode,
		QualityHint:    req.Quality,
		AudioOnly:      req.AudioOnly,
		Title:          req.Title,
		EmbedThumbnail: req.EmbedThumbnail,
		ClientID:       req.ClientID,
		Proxy:          req.Proxy,
		CookiesFile:    req.CookiesFile,
		Status:         model.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
		ClientIP:       clientIP(c),
	}

	created, err := s.tasks.Create(c.Request.Context(), task)
	if err != nil {
		s.writeError(c, cerrors.New(cerrors.KindExternal, "TASK_STORE_ERROR", err))
		return
	}

	job := model.Job{
		TaskID:      created.ID,
		MaxAttempts: s.defaultMaxAttempts,
		EnqueuedAt:  now,
	}
	if err := s.queue.Enqueue(c.Request.Context(), job); err != nil {
		s.writeError(c, cerrors.New(cerrors.KindExternal, "QUEUE_ERROR", err))
		return
	}

	c.JSON(http.StatusAccepted, newTaskResponse(created))
}

// handleProbe is GET /api/info?url=…: a describe-only extractor call, no
// task is created.
func (s *Server) handleProbe(c *gin.Context) {
	rawURL := c.Query("url")
	if !isValidSourceURL(rawURL) {
		s.writeError(c, cerrors.New(cerrors.KindValidation, "INVALID_URL", nil))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), subprocess.ProbeTimeout)
	defer cancel()
	result, err := s.runner.Probe(ctx, rawURL)
	if err != nil {
		s.writeError(c, cerrors.New(cerrors.KindTimeout, "PROBE_FAILED", err))
		return
	}

	formats := make([]formatOption, 0, len(result.Formats))
	for _, f := range result.Formats {
		formats = append(formats, formatOption{
			Code: f.Code, Extension: f.Extension, Height: f.Height,
			ACodec: f.ACodec, VCodec: f.VCodec, Note: f.Note,
		})
	}
	c.JSON(http.StatusOK, probeResponse{
		Title:        result.Title,
		ThumbnailURL: result.ThumbnailURL,
		DurationSec:  result.Duration.Seconds(),
		Formats:      formats,
	})
}

// handleGetStatus is GET /api/status/{id}: reads C1.
func (s *Server) handleGetStatus(c *gin.Context) {
	task, err := s.tasks.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeTaskLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTaskResponse(task))
}

// handleGetProgress is GET /api/progress/tasks/{id}: reads C2, falling back
// to a minimal snapshot derived from C1 on a cache miss. `?wait=1s` long-polls
// via the progress tracker's subscribe fan-out, bounded by the given
// duration (capped at 30s), returning as soon as an update arrives or the
// wait elapses.
func (s *Server) handleGetProgress(c *gin.Context) {
	taskID := c.Param("id")
	snap, err := s.queue.GetProgress(c.Request.Context(), taskID)
	if err != nil {
		task, taskErr := s.tasks.Get(c.Request.Context(), taskID)
		if taskErr != nil {
			s.writeTaskLookupError(c, taskErr)
			return
		}
		snap = model.ProgressSnapshot{
			TaskID:     task.ID,
			Status:     task.Status,
			Percent:    task.Percent,
			LastUpdate: task.UpdatedAt,
		}
	}

	if wait := c.Query("wait"); wait != "" && !snap.Status.IsTerminal() {
		if d, perr := time.ParseDuration(wait); perr == nil {
			if d > 30*time.Second {
				d = 30 * time.Second
			}
			snap = s.longPollOnce(c.Request.Context(), taskID, snap, d)
		}
	}

	c.JSON(http.StatusOK, newProgressResponse(snap))
}

func (s *Server) longPollOnce(ctx context.Context, taskID string, fallback model.ProgressSnapshot, d time.Duration) model.ProgressSnapshot {
	if s.progress == nil {
		return fallback
	}
	waitCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	ch := s.progress.Subscribe(waitCtx, taskID)
	select {
	case snap, ok := <-ch:
		if ok {
			return snap
		}
		return fallback
	case <-waitCtx.Done():
		return fallback
	}
}

// handleDownloadArtifact is GET /api/download/{id}: streams the completed
// file; 400 unless status=completed.
func (s *Server) handleDownloadArtifact(c *gin.Context) {
	task, err := s.tasks.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeTaskLookupError(c, err)
		return
	}
	if task.Status != model.StatusCompleted {
		s.writeError(c, cerrors.New(cerrors.KindInvalidState, "TASK_NOT_COMPLETED", nil))
		return
	}

	resolved := filepath.Clean(task.OutputPath)
	if !isWithinDownloadDir(s.cfg.DownloadDir, resolved) {
		s.writeError(c, cerrors.New(cerrors.KindPathTraversal, "PATH_TRAVERSAL", fmt.Errorf("path %q escapes download dir", resolved)))
		return
	}
	if _, statErr := os.Stat(resolved); statErr != nil {
		s.writeError(c, cerrors.New(cerrors.KindNotFound, "ARTIFACT_NOT_FOUND", statErr))
		return
	}

	name := task.OutputName
	if name == "" {
		name = filepath.Base(resolved)
	}
	c.FileAttachment(resolved, name)
}

func isWithinDownloadDir(dir, target string) bool {
	if dir == "" {
		return true
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absTarget)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// handleCancel is POST /api/cancel/{id}: §5's cancellation rule
// (processing is not cancellable, per the settled Open Question).
func (s *Server) handleCancel(c *gin.Context) {
	task, err := s.scheduler.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeTaskLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTaskResponse(task))
}

// handleDeleteTask is DELETE /api/task/{id}: guard path-traversal, unlink,
// delete row.
func (s *Server) handleDeleteTask(c *gin.Context) {
	taskID := c.Param("id")
	task, err := s.tasks.Get(c.Request.Context(), taskID)
	if err != nil {
		s.writeTaskLookupError(c, err)
		return
	}

	if task.OutputPath != "" {
		resolved := filepath.Clean(task.OutputPath)
		if !isWithinDownloadDir(s.cfg.DownloadDir, resolved) {
			s.writeError(c, cerrors.New(cerrors.KindPathTraversal, "PATH_TRAVERSAL", fmt.Errorf("path %q escapes download dir", resolved)))
			return
		}
		if rmErr := os.Remove(resolved); rmErr != nil && !os.IsNotExist(rmErr) {
			s.writeError(c, cerrors.New(cerrors.KindExternal, "UNLINK_FAILED", rmErr))
			return
		}
	}

	if err := s.tasks.Delete(c.Request.Context(), taskID); err != nil {
		s.writeTaskLookupError(c, err)
		return
	}
	_ = s.queue.DeleteProgress(c.Request.Context(), taskID)
	c.Status(http.StatusNoContent)
}

// handleListTasks is GET /api/tasks?status=&limit=: reads C1, capped at
// store.MaxListLimit.
func (s *Server) handleListTasks(c *gin.Context) {
	filter := store.Filter{Status: model.Status(c.Query("status"))}
	if limitStr := c.Query("limit"); limitStr != "" {
		fmt.Sscanf(limitStr, "%d", &filter.Limit)
	}
	if filter.Limit <= 0 || filter.Limit > store.MaxListLimit {
		filter.Limit = store.MaxListLimit
	}

	tasks, err := s.tasks.List(c.Request.Context(), filter)
	if err != nil {
		s.writeError(c, cerrors.New(cerrors.KindExternal, "TASK_STORE_ERROR", err))
		return
	}
	out := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, newTaskResponse(t))
	}
	c.JSON(http.StatusOK, gin.H{"tasks": out})
}

// handleSubtitles is GET /api/subtitles?url=&lang=: a short-lived C3 call,
// 60-s cap.
func (s *Server) handleSubtitles(c *gin.Context) {
	rawURL := c.Query("url")
	lang := c.Query("lang")
	if !isValidSourceURL(rawURL) {
		s.writeError(c, cerrors.New(cerrors.KindValidation, "INVALID_URL", nil))
		return
	}
	if strings.TrimSpace(lang) == "" {
		lang = "en"
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), subprocess.SubtitleTimeout)
	defer cancel()
	text, err := s.runner.Subtitles(ctx, rawURL, lang)
	if err != nil {
		s.writeError(c, cerrors.New(cerrors.KindTimeout, "SUBTITLES_FAILED", err))
		return
	}
	c.Data(http.StatusOK, "text/vtt; charset=utf-8", []byte(text))
}

// handleQueueStats is GET /api/queue/stats: reads C2.
func (s *Server) handleQueueStats(c *gin.Context) {
	depth, err := s.queue.QueueLen(c.Request.Context())
	if err != nil {
		s.writeError(c, cerrors.New(cerrors.KindExternal, "QUEUE_ERROR", err))
		return
	}
	active, err := s.queue.ActiveCount(c.Request.Context())
	if err != nil {
		s.writeError(c, cerrors.New(cerrors.KindExternal, "QUEUE_ERROR", err))
		return
	}
	c.JSON(http.StatusOK, queueStatsResponse{
		QueueDepth:    depth,
		ActiveCount:   active,
		MaxConcurrent: s.cfg.MaxConcurrentDownloads,
	})
}

func (s *Server) writeTaskLookupError(c *gin.Context, err error) {
	if err == store.ErrNotFound {
		s.writeError(c, cerrors.New(cerrors.KindNotFound, "TASK_NOT_FOUND", nil))
		return
	}
	s.writeError(c, cerrors.New(cerrors.KindExternal, "TASK_STORE_ERROR", err))
}

func isValidSourceURL(raw string) bool {
	if strings.TrimSpace(raw) == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
