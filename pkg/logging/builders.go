package logging

import (
	"time"

	"github.com/labring/testreport/pkg/common"
)

// Message returns a Builder for a plain text event stamped with the current time
func Message(level common.LogLevel, message string) Builder {
	now := time.Now()
	return func(itemID string) *common.SaveLogRQ {
		return &common.SaveLogRQ{
			ItemID:  itemID,
			Time:    now,
			Level:   level,
			Message: message,
		}
	}
}

// Attachment returns a Builder for an event carrying a file
func Attachment(level common.LogLevel, message string, file *common.File) Builder {
	now := time.Now()
	return func(itemID string) *common.SaveLogRQ {
		var f *common.File
		if file != nil {
			copied := *file
			f = &copied
		}
		return &common.SaveLogRQ{
			ItemID:  itemID,
			Time:    now,
			Level:   level,
			Message: message,
			File:    f,
		}
	}
}
