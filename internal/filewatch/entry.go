package filewatch

import "strings"

type Status int

const (
	StatusUnknown Status = iota
	StatusCurrent
	StatusStale
	StatusDeleted
	StatusNoExist
	StatusEmptyFolder
	// StatusError is set locally when the host reports a failure for an entry.
	StatusError
)

var statusNames = map[Status]string{
	StatusUnknown:     "UNKNOWN",
	StatusCurrent:     "CURRENT",
	StatusStale:       "STALE",
	StatusDeleted:     "DELETED",
	StatusNoExist:     "NOEXIST",
	StatusEmptyFolder: "EMPTYFOLDER",
	StatusError:       "ERROR",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseStatus maps a host status string to a Status. ERROR is never accepted
// from the wire.
func ParseStatus(raw string) (Status, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "UNKNOWN":
		return StatusUnknown, true
	case "CURRENT":
		return StatusCurrent, true
	case "STALE":
		return StatusStale, true
	case "DELETED":
		return StatusDeleted, true
	case "NOEXIST":
		return StatusNoExist, true
	case "EMPTYFOLDER":
		return StatusEmptyFolder, true
	default:
		return StatusUnknown, false
	}
}

type Kind int

const (
	KindFile Kind = iota
	KindFolder
)

func (k Kind) String() string {
	if k == KindFolder {
		return "folder"
	}
	return "file"
}

type Entry struct {
	Path   string
	Kind   Kind
	Status Status
}
