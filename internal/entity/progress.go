package entity

// SchedulerState is the lifecycle phase of a crawl run.
type SchedulerState int32

const (
	StateIdle SchedulerState = iota
	StateRunning
	StateDraining
	StateFailed
	StateStopped
)

func (s SchedulerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateFailed:
		return "failed"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Progress is a point-in-time view of crawl counters.
type Progress struct {
	State        string `json:"state,omitempty"`
	PageCount    int    `json:"page_count"`
	Downloaded   int    `json:"downloaded"`
	Discovered   int    `json:"discovered"`
	Remaining    int    `json:"remaining"`
	DeadLettered int    `json:"dead_lettered"`
}
