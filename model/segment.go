package model

// Segment links two nodes. Source and Target are node names in the
// registry; the segment never owns the nodes it references.
type Segment struct {
	Name   string `yaml:"name" json:"name"`
	Source string `yaml:"source" json:"source"`
	Target string `yaml:"target" json:"target"`

	// Weight is the segment's carrying capacity. Zero means unlimited.
	Weight float64 `yaml:"weight" json:"weight"`
}

// FaultState describes whether a segment is currently carrying flow.
type FaultState int

const (
	SegmentHealthy FaultState = iota
	SegmentFaulted
)

func (f FaultState) String() string {
	switch f {
	case SegmentHealthy:
		return "healthy"
	case SegmentFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}
