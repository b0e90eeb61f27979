package processing

import "errors"

// ProcessType identifies one of the independent background processors that
// operate on an uploaded video file.
type ProcessType string

// ErrProcessTypeUnknown is returned when a process type is unknown.
var ErrProcessTypeUnknown = errors.New("process type unknown")

const (
	// ProcessTypeEnhancement is the pixel-level video enhancement pipeline.
	ProcessTypeEnhancement ProcessType = "video_enhancement"

	// ProcessTypeExtraction is the metadata and histogram extraction pipeline.
	ProcessTypeExtraction ProcessType = "metadata_extraction"
)

// String returns the string representation of the ProcessType.
func (p ProcessType) String() string { return string(p) }

// ProcessTypes returns every process type a file is dispatched to at upload.
func ProcessTypes() []ProcessType {
	return []ProcessType{ProcessTypeEnhancement, ProcessTypeExtraction}
}

// ParseProcessType converts a string to a ProcessType.
// The short forms are accepted on the query surface so clients can ask for
// "enhancement" without knowing the wire name.
func ParseProcessType(s string) (ProcessType, error) {
	switch s {
	case "video_enhancement", "enhancement":
		return ProcessTypeEnhancement, nil
	case "metadata_extraction", "extraction":
		return ProcessTypeExtraction, nil
	default:
		return "", ErrProcessTypeUnknown
	}
}
