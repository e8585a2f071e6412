package download

// EventKind identifies the phase of a payload's lifecycle an Event
// describes.
type EventKind int

const (
	// EventInit fires once per payload before any bytes are requested.
	EventInit EventKind = iota
	// EventProgress fires zero or more times while bytes are in flight.
	EventProgress
	// EventCompleted fires exactly once per payload, terminally.
	EventCompleted
)

// Result is the terminal outcome carried by an EventCompleted event.
type Result int

const (
	// ResultSuccess means the artifact was downloaded (or already current).
	ResultSuccess Result = 0
	// ResultUpToDate means the conditional-GET found the local copy current;
	// no bytes were written.
	ResultUpToDate Result = 1
	// ResultFailed means the transfer failed terminally.
	ResultFailed Result = -1
)

// EventData carries the payload for one event, shaped by its Kind:
// only the fields relevant to the kind are meaningful.
type EventData struct {
	// Optional is set on EventInit for a payload whose ErrorsOk is true.
	Optional bool

	// Downloaded/Total are set on EventProgress: cumulative bytes read and
	// the server-advertised total (-1 if unknown).
	Downloaded int64
	Total      int64

	// Result is set on EventCompleted.
	Result Result
}

// Event is delivered to an EventFunc once per lifecycle transition of a
// payload.
type Event struct {
	RemoteName string
	Kind       EventKind
	Data       EventData
}

// EventFunc receives download lifecycle events. It runs on whichever
// goroutine is driving the payload at the time and must not block
// arbitrarily; the scheduler does not guarantee ordering across payloads,
// only INIT before PROGRESS* before COMPLETED for a single payload.
type EventFunc func(ev Event)

func emit(fn EventFunc, remoteName string, kind EventKind, data EventData) {
	if fn == nil {
		return
	}
	fn(Event{RemoteName: remoteName, Kind: kind, Data: data})
}
