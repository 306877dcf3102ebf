package jobs

import "time"

type EventType string

const (
	EventQueued   EventType = "job.queued"
	EventRunning  EventType = "job.running"
	EventProgress EventType = "job.progress"
	EventDone     EventType = "job.done"
	EventFailed   EventType = "job.failed"
)

// Event is one progress update pushed to websocket subscribers.
type Event struct {
	Type       EventType `json:"type"`
	JobID      string    `json:"job_id"`
	State      JobState  `json:"state"`
	Progress   Progress  `json:"progress"`
	OutputPath string    `json:"output_path,omitempty"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// EventFor snapshots the job into an event of the given type.
func EventFor(t EventType, job Job) Event {
	return Event{
		Type:       t,
		JobID:      job.ID,
		State:      job.State,
		Progress:   job.Progress,
		OutputPath: job.OutputPath,
		Error:      job.Error,
		At:         time.Now().UTC(),
	}
}
