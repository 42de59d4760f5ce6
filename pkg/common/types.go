// Package common provides the request and response shapes exchanged with the collector
package common

import (
	"strings"
	"time"
)

// LogLevel of a log event
type LogLevel string

const (
	LevelTrace   LogLevel = "trace"
	LevelDebug   LogLevel = "debug"
	LevelInfo    LogLevel = "info"
	LevelWarn    LogLevel = "warn"
	LevelError   LogLevel = "error"
	LevelFatal   LogLevel = "fatal"
	LevelUnknown LogLevel = "unknown"
)

// Mode is the launch running mode
type Mode string

const (
	ModeDefault Mode = "DEFAULT"
	ModeDebug   Mode = "DEBUG"
)

// ParseMode maps a case-insensitive mode name to a Mode, falling back to ModeDefault
func ParseMode(s string) Mode {
	switch Mode(strings.ToUpper(strings.TrimSpace(s))) {
	case ModeDebug:
		return ModeDebug
	default:
		return ModeDefault
	}
}

// ItemType is the kind of test item
type ItemType string

const (
	ItemTypeSuite  ItemType = "SUITE"
	ItemTypeStory  ItemType = "STORY"
	ItemTypeTest   ItemType = "TEST"
	ItemTypeStep   ItemType = "STEP"
	ItemTypeBefore ItemType = "BEFORE_METHOD"
	ItemTypeAfter  ItemType = "AFTER_METHOD"
)

// Status is the execution status of an item or launch
type Status string

const (
	StatusInProgress  Status = "IN_PROGRESS"
	StatusPassed      Status = "PASSED"
	StatusFailed      Status = "FAILED"
	StatusSkipped     Status = "SKIPPED"
	StatusInterrupted Status = "INTERRUPTED"
)

// IssueNotIssue marks a skipped item as not being a defect
const IssueNotIssue = "NOT_ISSUE"

// File is a log attachment. Name travels in the JSON part, the bytes in a binary part.
type File struct {
	Name        string `json:"name"`
	ContentType string `json:"-"`
	Content     []byte `json:"-"`
}

// SaveLogRQ is a single log event bound to a test item
type SaveLogRQ struct {
	ItemID  string    `json:"item_id"`
	Time    time.Time `json:"time"`
	Level   LogLevel  `json:"level"`
	Message string    `json:"message"`
	File    *File     `json:"file,omitempty"`
}

// StartLaunchRQ starts a launch
type StartLaunchRQ struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	StartTime   time.Time `json:"start_time"`
	Mode        Mode      `json:"mode,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Rerun       bool      `json:"rerun,omitempty"`
	UUID        string    `json:"uuid,omitempty"`
}

// FinishExecutionRQ finishes a launch
type FinishExecutionRQ struct {
	EndTime time.Time `json:"end_time"`
	Status  Status    `json:"status,omitempty"`
}

// Parameter is a key/value test parameter
type Parameter struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// StartTestItemRQ starts a test item
type StartTestItemRQ struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	StartTime   time.Time   `json:"start_time"`
	Type        ItemType    `json:"type"`
	LaunchID    string      `json:"launch_id"`
	Tags        []string    `json:"tags,omitempty"`
	Parameters  []Parameter `json:"parameters,omitempty"`
	UniqueID    string      `json:"unique_id,omitempty"`
	Retry       bool        `json:"retry,omitempty"`
	RetryOf     string      `json:"retry_of,omitempty"`
}

// Issue classifies a failed or skipped item
type Issue struct {
	IssueType string `json:"issue_type"`
	Comment   string `json:"comment,omitempty"`
}

// FinishTestItemRQ finishes a test item
type FinishTestItemRQ struct {
	EndTime     time.Time `json:"end_time"`
	Status      Status    `json:"status,omitempty"`
	Description string    `json:"description,omitempty"`
	Issue       *Issue    `json:"issue,omitempty"`
	Retry       bool      `json:"retry,omitempty"`
}

// EntryCreatedRS is returned when a launch or item is created
type EntryCreatedRS struct {
	ID string `json:"id"`
}

// OperationCompletionRS is returned by finish operations
type OperationCompletionRS struct {
	Message string `json:"msg"`
}

// BatchElementCreatedRS is the per-event result of a log batch
type BatchElementCreatedRS struct {
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
}

// BatchSaveOperatingRS is the result of a log batch
type BatchSaveOperatingRS struct {
	Responses []BatchElementCreatedRS `json:"responses"`
}
