package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound         = errors.New("storage: not found")
	ErrSchemaTooNew     = errors.New("storage: schema version newer than code")
	ErrInvalidDowngrade = errors.New("storage: invalid downgrade target")
	ErrAuditChainMoved  = errors.New("storage: audit chain tip moved")
)

type Recording struct {
	ID                         string    `json:"id"`
	Timestamp                  float64   `json:"timestamp" validate:"gt=0"`
	MonitorWidth               int       `json:"monitor_width" validate:"gte=0"`
	MonitorHeight              int       `json:"monitor_height" validate:"gte=0"`
	DoubleClickIntervalSeconds float64   `json:"double_click_interval_seconds" validate:"gte=0"`
	DoubleClickDistancePixels  float64   `json:"double_click_distance_pixels" validate:"gte=0"`
	Platform                   string    `json:"platform"`
	TaskDescription            string    `json:"task_description"`
	VideoStartTime             *float64  `json:"video_start_time,omitempty"`
	CreatedAt                  time.Time `json:"created_at"`
}

// ActionEvent is a single captured or replayed user action. Payload fields are
// optional because each event kind only populates a subset of them.
type ActionEvent struct {
	ID              string   `json:"id,omitempty"`
	RecordingID     string   `json:"recording_id,omitempty"`
	Name            string   `json:"name" validate:"required,oneof=move click singleclick doubleclick scroll press release type"`
	Timestamp       float64  `json:"timestamp" validate:"gte=0"`
	ScreenshotID    string   `json:"screenshot_id,omitempty"`
	WindowEventID   string   `json:"window_event_id,omitempty"`
	MouseX          *float64 `json:"mouse_x,omitempty"`
	MouseY          *float64 `json:"mouse_y,omitempty"`
	MouseDX         *float64 `json:"mouse_dx,omitempty"`
	MouseDY         *float64 `json:"mouse_dy,omitempty"`
	MouseButtonName string   `json:"mouse_button_name,omitempty" validate:"omitempty,oneof=left right middle"`
	MousePressed    *bool    `json:"mouse_pressed,omitempty"`
	KeyName         string   `json:"key_name,omitempty"`
	KeyChar         string   `json:"key_char,omitempty"`
	KeyVK           string   `json:"key_vk,omitempty"`
	Text            string   `json:"text,omitempty"`

	// Populated by loaders, never persisted with the event row.
	Screenshot  *Screenshot  `json:"-"`
	WindowEvent *WindowEvent `json:"-"`
}

type WindowEvent struct {
	ID          string          `json:"id,omitempty"`
	RecordingID string          `json:"recording_id,omitempty"`
	Timestamp   float64         `json:"timestamp"`
	WindowID    string          `json:"window_id,omitempty"`
	Title       string          `json:"title"`
	Left        int             `json:"left"`
	Top         int             `json:"top"`
	Width       int             `json:"width" validate:"gte=0"`
	Height      int             `json:"height" validate:"gte=0"`
	State       json.RawMessage `json:"state,omitempty"`
}

type Screenshot struct {
	ID          string  `json:"id,omitempty"`
	RecordingID string  `json:"recording_id,omitempty"`
	Timestamp   float64 `json:"timestamp"`
	PNGData     []byte  `json:"-"`
}

type ReplayStatus string

const (
	ReplayStatusRunning   ReplayStatus = "running"
	ReplayStatusCompleted ReplayStatus = "completed"
	ReplayStatusFailed    ReplayStatus = "failed"
)

type ReplayRun struct {
	ID           string
	RecordingID  string
	Strategy     string
	Instructions string
	Status       ReplayStatus
	Steps        int
	Error        string
	StartedAt    time.Time
	FinishedAt   *time.Time
}

type ReplayAction struct {
	RunID     string
	Step      int
	Action    ActionEvent
	CreatedAt time.Time
}

type AuditEvent struct {
	ID          string
	Action      string
	Actor       string
	TargetType  string
	TargetID    string
	Result      string
	DetailsJSON string
	PrevHash    string
	EventHash   string
	CreatedAt   time.Time
}

type AuditFilter struct {
	Action     string
	TargetType string
	TargetID   string
	Since      *time.Time
	Until      *time.Time
	Limit      int
	Tail       bool
}

type RecordingRepository interface {
	Create(ctx context.Context, recording *Recording) error
	Get(ctx context.Context, id string) (*Recording, error)
	Latest(ctx context.Context) (*Recording, error)
	List(ctx context.Context) ([]Recording, error)
	SetVideoStartTime(ctx context.Context, id string, value *float64) error
	Delete(ctx context.Context, id string) error
}

type ActionEventRepository interface {
	Create(ctx context.Context, event *ActionEvent) error
	ListByRecording(ctx context.Context, recordingID string) ([]ActionEvent, error)
}

type WindowEventRepository interface {
	Create(ctx context.Context, event *WindowEvent) error
	Get(ctx context.Context, id string) (*WindowEvent, error)
	ListByRecording(ctx context.Context, recordingID string) ([]WindowEvent, error)
}

type ScreenshotRepository interface {
	Create(ctx context.Context, screenshot *Screenshot) error
	Get(ctx context.Context, id string) (*Screenshot, error)
	ListByRecording(ctx context.Context, recordingID string) ([]Screenshot, error)
}

type ReplayRepository interface {
	Start(ctx context.Context, run *ReplayRun) error
	AppendAction(ctx context.Context, runID string, step int, action ActionEvent) error
	Finish(ctx context.Context, runID string, status ReplayStatus, steps int, runErr string) error
	Get(ctx context.Context, id string) (*ReplayRun, error)
	ListByRecording(ctx context.Context, recordingID string) ([]ReplayRun, error)
	Actions(ctx context.Context, runID string) ([]ReplayAction, error)
}

type AuditRepository interface {
	AppendLinked(ctx context.Context, event *AuditEvent) error
	List(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)
	Walk(ctx context.Context, fn func(AuditEvent) error) error
	ChainTip(ctx context.Context) (string, error)
}
