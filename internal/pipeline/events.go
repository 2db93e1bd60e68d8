package pipeline

type EventKind string

const (
	EventQueued    EventKind = "queued"
	EventDequeued  EventKind = "dequeued"
	EventUploading EventKind = "uploading"
	EventUploaded  EventKind = "uploaded"
	EventFailed    EventKind = "failed"
	EventRetry     EventKind = "retry"
)

// Event is emitted for every state change an observer (history, notifications) may care about
type Event struct {
	Kind EventKind
	ID   string
	URL  string
	Err  error
}

type EventHandler func(Event)
