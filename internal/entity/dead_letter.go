package entity

import "time"

// DeadLetter is a URL that exhausted its retry budget.
type DeadLetter struct {
	URL       string
	Attempts  int
	LastError string
	FailedAt  time.Time
}
