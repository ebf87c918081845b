package httpapi

import "github.com/yunfie-twitter/ytdlp-api/internal/model"

// createTaskRequest is POST /api/download's body.
type createTaskRequest struct {
	URL            string `json:"url" binding:"required"`
	Format         string `json:"format"`
	FormatCode     string `json:"format_code"`
	Quality        string `json:"quality"`
	AudioOnly      bool   `json:"audio_only"`
	Title          string `json:"title"`
	EmbedThumbnail bool   `json:"embed_thumbnail"`
	ClientID       string `json:"client_id"`
	Proxy          string `json:"proxy"`
	CookiesFile    string `json:"cookies_file"`
}

// taskResponse is the public view of a model.Task: C1's internal fields
// (ProcessID, ClientIP) stay out of the wire shape.
type taskResponse struct {
	ID            string  `json:"id"`
	SourceURL     string  `json:"url"`
	Status        string  `json:"status"`
	Percent       float64 `json:"percent"`
	ResolvedTitle string  `json:"resolved_title,omitempty"`
	ThumbnailURL  string  `json:"thumbnail_url,omitempty"`
	DurationSec   float64 `json:"duration_sec,omitempty"`
	OutputName    string  `json:"output_name,omitempty"`
	OutputSize    int64   `json:"output_size,omitempty"`
	ErrorMessage  string  `json:"error_message,omitempty"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

func newTaskResponse(t model.Task) taskResponse {
	return taskResponse{
		ID:            t.ID,
		SourceURL:     t.SourceURL,
		Status:        string(t.Status),
		Percent:       t.Percent,
		ResolvedTitle: t.ResolvedTitle,
		ThumbnailURL:  t.ThumbnailURL,
		DurationSec:   t.DurationSec,
		OutputName:    t.OutputName,
		OutputSize:    t.OutputSize,
		ErrorMessage:  t.ErrorMessage,
		CreatedAt:     t.CreatedAt.Format(timeLayout),
		UpdatedAt:     t.UpdatedAt.Format(timeLayout),
	}
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// progressResponse is GET /api/progress/tasks/{id}'s body.
type progressResponse struct {
	TaskID      string       `json:"task_id"`
	Status      string       `json:"status"`
	Percent     float64      `json:"percent"`
	BytesDone   int64        `json:"bytes_done"`
	BytesTotal  int64        `json:"bytes_total"`
	BytesPerSec float64      `json:"bytes_per_sec"`
	ETASeconds  *int64       `json:"eta_seconds,omitempty"`
	LastUpdate  string       `json:"last_update"`
	Events      []eventEntry `json:"events"`
}

type eventEntry struct {
	Kind      string `json:"kind"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp"`
}

func newProgressResponse(s model.ProgressSnapshot) progressResponse {
	events := make([]eventEntry, 0, len(s.Events))
	for _, e := range s.Events {
		events = append(events, eventEntry{
			Kind:      string(e.Kind),
			Message:   e.Message,
			Timestamp: e.Timestamp.Format(timeLayout),
		})
	}
	return progressResponse{
		TaskID:      s.TaskID,
		Status:      string(s.Status),
		Percent:     s.Percent,
		BytesDone:   s.BytesDone,
		BytesTotal:  s.BytesTotal,
		BytesPerSec: s.BytesPerSec,
		ETASeconds:  s.ETASeconds,
		LastUpdate:  s.LastUpdate.Format(timeLayout),
		Events:      events,
	}
}

// probeResponse is GET /api/info's body.
type probeResponse struct {
	Title        string         `json:"title"`
	ThumbnailURL string         `json:"thumbnail_url"`
	DurationSec  float64        `json:"duration_sec"`
	Formats      []formatOption `json:"formats"`
}

type formatOption struct {
	Code      string `json:"code"`
	Extension string `json:"extension"`
	Height    int    `json:"height,omitempty"`
	ACodec    string `json:"acodec,omitempty"`
	VCodec    string `json:"vcodec,omitempty"`
	Note      string `json:"note,omitempty"`
}

// issueKeyRequest is POST /api/auth/issue-key's body.
type issueKeyRequest struct {
	Password    string `json:"password" binding:"required"`
	Subject     string `json:"subject" binding:"required"`
	Description string `json:"description"`
}

type issueKeyResponse struct {
	Token  string `json:"token"`
	KeyID  string `json:"key_id"`
	Active bool   `json:"active"`
}

// revokeKeyRequest is POST /api/auth/revoke-key's body.
type revokeKeyRequest struct {
	Token string `json:"token" binding:"required"`
}

type queueStatsResponse struct {
	QueueDepth     int64 `json:"queue_depth"`
	ActiveCount    int64 `json:"active_count"`
	MaxConcurrent  int   `json:"max_concurrent"`
}
