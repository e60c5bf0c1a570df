package model

import (
	"errors"
	"fmt"
)

var (
	ErrNoCandidate       = errors.New("no candidate buyers for zone")
	ErrEntryNotQueued    = errors.New("retry entry not queued")
	ErrInvalidEscalation = errors.New("escalation percent must be between 1 and 90")
	ErrInvalidStatus     = errors.New("invalid status transition")
	ErrRecordResolved    = errors.New("record already routed")
	ErrRunNotFound       = errors.New("run not found")
	ErrRecordNotFound    = errors.New("record not found in run")
	ErrNoSnapshotSource  = errors.New("no inventory snapshot source configured")
)

// Data sources named in DataError.
const (
	SourceInventory = "inventory"
	SourceBuyer     = "buyer"
)

// DataError flags a malformed or incomplete input record. It never aborts a batch.
type DataError struct {
	Source string `json:"source"`
	Key    string `json:"key,omitempty"`
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func NewDataError(source, key, field, reason string) *DataError {
	return &DataError{Source: source, Key: key, Field: field, Reason: reason}
}

func (e *DataError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s record: %s %s", e.Source, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s record %q: %s %s", e.Source, e.Key, e.Field, e.Reason)
}
