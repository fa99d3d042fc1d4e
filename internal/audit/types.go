package audit

import "time"

const (
	ActionRecordingImport = "recording.import"
	ActionRecordingDelete = "recording.delete"

	ActionReplayStart  = "replay.start"
	ActionReplayFinish = "replay.finish"
	ActionReplayFail   = "replay.fail"

	ActionDBMigrate   = "db.migrate"
	ActionDBDowngrade = "db.downgrade"

	ActionAppUpdate = "app.update"
)

var AllActionTypes = []string{
	ActionRecordingImport,
	ActionRecordingDelete,
	ActionReplayStart,
	ActionReplayFinish,
	ActionReplayFail,
	ActionDBMigrate,
	ActionDBDowngrade,
	ActionAppUpdate,
}

// Event is what callers record. Details must marshal to a JSON object.
type Event struct {
	Timestamp  time.Time
	Action     string
	TargetType string
	TargetID   string
	Result     string
	Actor      string
	Details    any
}

type Filter struct {
	Action     string
	TargetType string
	TargetID   string
	Since      *time.Time
	Until      *time.Time
	Limit      int
	// Latest applies Limit to the newest events. Results stay oldest first.
	Latest bool
}

type RecordedEvent struct {
	ID          string
	Timestamp   time.Time
	Action      string
	Actor       string
	TargetType  string
	TargetID    string
	Result      string
	DetailsJSON string
	PrevHash    string
	EventHash   string
}

type VerifyResult struct {
	Valid      bool
	EventCount int
	// ChainTip is the last hash that verified.
	ChainTip string
	// BrokenAt names the first event whose link does not verify.
	BrokenAt string
	Error    string
}
