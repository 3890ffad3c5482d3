package event

import "time"

// Type identifies the kind of event.
type Type int

const (
	MirrorSelected Type = iota + 1
	MirrorSwitched
	MirrorBanned
	ConfigUpdated
	CatalogLoaded
	DownloadStarted
	Progress
	AttemptFailed
	DownloadCompleted
	DownloadFailed
	Pruned
	HWIDCheckFailed
)

var typeNames = [...]string{
	MirrorSelected:    "MirrorSelected",
	MirrorSwitched:    "MirrorSwitched",
	MirrorBanned:      "MirrorBanned",
	ConfigUpdated:     "ConfigUpdated",
	CatalogLoaded:     "CatalogLoaded",
	DownloadStarted:   "DownloadStarted",
	Progress:          "Progress",
	AttemptFailed:     "AttemptFailed",
	DownloadCompleted: "DownloadCompleted",
	DownloadFailed:    "DownloadFailed",
	Pruned:            "Pruned",
	HWIDCheckFailed:   "HWIDCheckFailed",
}

func (t Type) String() string {
	if t > 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Unknown"
}

// Event represents a single notification from the engine.
type Event struct {
	Timestamp time.Time
	Error     error
	Release   string
	Mirror    string
	Path      string
	Bytes     int64 // bytes transferred so far, or records loaded (CatalogLoaded)
	Total     int64 // declared size when known
	Speed     float64
	ETA       time.Duration
	Type      Type
}

// Send stamps ev and delivers it on ch. A nil channel discards the event.
func Send(ch chan<- Event, ev Event) {
	if ch == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	ch <- ev
}

// TrySend is Send without blocking; the event is dropped when ch is full.
// Used for high-frequency progress samples.
func TrySend(ch chan<- Event, ev Event) {
	if ch == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case ch <- ev:
	default:
	}
}
