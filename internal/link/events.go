package link

import "fmt"

// EventKind discriminates link events.
type EventKind int

const (
	// EventScanMatch reports a discovered candidate device.
	EventScanMatch EventKind = iota
	// EventConnected reports that streaming started.
	EventConnected
	// EventDisconnected reports that the link went down, for any reason.
	EventDisconnected
	// EventNotification carries one raw notification frame.
	EventNotification
)

func (k EventKind) String() string {
	switch k {
	case EventScanMatch:
		return "scan_match"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventNotification:
		return "notification"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Candidate is a device that matched discovery. It lives from the scan
// match until a connection attempt consumes it or a newer match
// supersedes it.
type Candidate struct {
	Identity     string // address, used for dialing
	Name         string // advertised name, informational
	LastSeenRSSI int
}

// Event is the sum type flowing from the link manager (including radio
// callback contexts) to the node controller.
type Event struct {
	Kind      EventKind
	Frame     []byte    // set for EventNotification
	Candidate Candidate // set for EventScanMatch
}
