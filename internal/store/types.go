package store

import "time"

// CleanedEvent is one clipboard content rewritten by the monitor.
type CleanedEvent struct {
	ID            uint64
	Original      string
	Cleaned       string
	ParamsRemoved int
	CreatedAt     time.Time
}

// Stats summarizes the history table.
type Stats struct {
	Events        int64
	ParamsRemoved int64
	First         time.Time
	Last          time.Time
}
