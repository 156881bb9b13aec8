package batch

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a single batch item.
type Status string

// Item status values
const (
	StatusIdle       Status = "idle"
	StatusGenerating Status = "generating"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

// ParseStatus converts a persisted status string back into a Status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusIdle, StatusGenerating, StatusDone, StatusError:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// Terminal reports whether the status ends an item's lifecycle for a run.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// Item is the observable state of one unit of work.
type Item struct {
	Index        int       `json:"index"`
	Status       Status    `json:"status"`
	ResultHandle string    `json:"result_handle,omitempty"`
	Error        string    `json:"error,omitempty"`
	Attempts     int       `json:"attempts"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Progress is emitted after every item that reaches Done or Error.
type Progress struct {
	Index  int  `json:"index"`
	Item   Item `json:"item"`
	Done   int  `json:"done"`
	Errors int  `json:"errors"`
	Total  int  `json:"total"`
}

// Summary holds the counters of a run.
type Summary struct {
	Done      int  `json:"done"`
	Errors    int  `json:"errors"`
	Total     int  `json:"total"`
	Cancelled bool `json:"cancelled"`
}

// Pending returns the number of items that are neither Done nor Error.
func (s Summary) Pending() int {
	return s.Total - s.Done - s.Errors
}

// PriorFromItems indexes items for use as the prior state of a new run.
func PriorFromItems(items []Item) map[int]Item {
	prior := make(map[int]Item, len(items))
	for _, it := range items {
		prior[it.Index] = it
	}
	return prior
}
