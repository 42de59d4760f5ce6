// Package common holds the message shapes of the live log stream
package common

import "github.com/labring/testreport/pkg/store"

// Subscription targets
const (
	TargetItem   = "item"
	TargetLaunch = "launch"
)

// LogMessage carries one stored log record to a subscriber
type LogMessage struct {
	Type      string           `json:"type"`
	DataType  string           `json:"dataType"` // "item" or "launch"
	TargetID  string           `json:"targetId"`
	Log       *store.LogRecord `json:"log"`
	IsHistory bool             `json:"isHistory,omitempty"`
}

// SubscriptionRequest subscription request structure
type SubscriptionRequest struct {
	Action   string              `json:"action"` // "subscribe", "unsubscribe", "list"
	Type     string              `json:"type"`   // "item", "launch"
	TargetID string              `json:"targetId"`
	Options  SubscriptionOptions `json:"options"`
}

// SubscriptionOptions subscription options
type SubscriptionOptions struct {
	Levels []string `json:"levels"`
	Tail   int      `json:"tail"` // Historical record count
}

// SubscriptionResult subscription result response
type SubscriptionResult struct {
	Action    string          `json:"action"` // "subscribed", "unsubscribed"
	Type      string          `json:"type"`
	TargetID  string          `json:"targetId"`
	Levels    map[string]bool `json:"levels,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Extra     map[string]any  `json:"extra,omitempty"`
}

// ErrorResponse is sent when a stream request cannot be served
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Timestamp int64  `json:"timestamp"`
}
