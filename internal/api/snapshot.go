package api

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/gridworld-simulator/internal/sim/state"
)

// ContentTypeProtobuf selects the structpb encoding of a snapshot.
const ContentTypeProtobuf = "application/x-protobuf"

// SnapshotDocument is the wire form of a world snapshot.
type SnapshotDocument struct {
	Tick      uint64            `json:"tick" yaml:"tick"`
	Timestamp string            `json:"timestamp" yaml:"timestamp"`
	SimTime   string            `json:"sim_time" yaml:"sim_time"`
	Nodes     []NodeDocument    `json:"nodes" yaml:"nodes"`
	Segments  []SegmentDocument `json:"segments" yaml:"segments"`
	Totals    TotalsDocument    `json:"totals" yaml:"totals"`
}

// NodeDocument is one node in a SnapshotDocument.
type NodeDocument struct {
	Name      string  `json:"name" yaml:"name"`
	Capacity  float64 `json:"capacity" yaml:"capacity"`
	Demand    float64 `json:"demand" yaml:"demand"`
	Supply    float64 `json:"supply" yaml:"supply"`
	Shortfall float64 `json:"shortfall" yaml:"shortfall"`
	Critical  bool    `json:"critical" yaml:"critical"`
	Surge     float64 `json:"surge" yaml:"surge"`
	Energized bool    `json:"energized" yaml:"energized"`
}

// SegmentDocument is one segment in a SnapshotDocument.
type SegmentDocument struct {
	Name        string  `json:"name" yaml:"name"`
	Source      string  `json:"source" yaml:"source"`
	Target      string  `json:"target" yaml:"target"`
	Faulted     bool    `json:"faulted" yaml:"faulted"`
	FaultReason string  `json:"fault_reason,omitempty" yaml:"fault_reason,omitempty"`
	FaultedAt   string  `json:"faulted_at,omitempty" yaml:"faulted_at,omitempty"`
	Flow        float64 `json:"flow" yaml:"flow"`
	Overloaded  bool    `json:"overloaded,omitempty" yaml:"overloaded,omitempty"`
}

// TotalsDocument aggregates a SnapshotDocument.
type TotalsDocument struct {
	Demand          float64 `json:"demand" yaml:"demand"`
	Supply          float64 `json:"supply" yaml:"supply"`
	Shortfall       float64 `json:"shortfall" yaml:"shortfall"`
	SupplyPool      float64 `json:"supply_pool" yaml:"supply_pool"`
	FaultedSegments int     `json:"faulted_segments" yaml:"faulted_segments"`
	PendingEvents   int     `json:"pending_events" yaml:"pending_events"`
}

// NewSnapshotDocument converts a state snapshot taken at wall time now.
func NewSnapshotDocument(snap *state.Snapshot, now time.Time) SnapshotDocument {
	doc := SnapshotDocument{
		Tick:      snap.Tick,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
		SimTime:   snap.SimTime.UTC().Format(time.RFC3339Nano),
		Nodes:     make([]NodeDocument, 0, len(snap.Nodes)),
		Segments:  make([]SegmentDocument, 0, len(snap.Segments)),
		Totals: TotalsDocument{
			Demand:          snap.TotalDemand,
			Supply:          snap.TotalSupply,
			Shortfall:       snap.TotalShortfall,
			SupplyPool:      snap.SupplyPool,
			FaultedSegments: snap.FaultedSegments(),
			PendingEvents:   len(snap.Pending),
		},
	}
	for _, n := range snap.Nodes {
		doc.Nodes = append(doc.Nodes, NodeDocument{
			Name:      n.Name,
			Capacity:  n.Capacity,
			Demand:    n.Demand,
			Supply:    n.Supply,
			Shortfall: n.Shortfall,
			Critical:  n.Critical,
			Surge:     n.Surge,
			Energized: n.Energized,
		})
	}
	for _, s := range snap.Segments {
		seg := SegmentDocument{
			Name:        s.Name,
			Source:      s.Source,
			Target:      s.Target,
			Faulted:     s.Faulted(),
			FaultReason: s.FaultReason,
			Flow:        s.Flow,
			Overloaded:  s.Overloaded,
		}
		if s.Faulted() {
			seg.FaultedAt = s.FaultedAt.UTC().Format(time.RFC3339Nano)
		}
		doc.Segments = append(doc.Segments, seg)
	}
	return doc
}

// Struct renders the document as a protobuf Struct with the same field
// names as the JSON form.
func (d SnapshotDocument) Struct() (*structpb.Struct, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return structpb.NewStruct(fields)
}

// MarshalProto encodes the document as a binary protobuf Struct.
func (d SnapshotDocument) MarshalProto() ([]byte, error) {
	st, err := d.Struct()
	if err != nil {
		return nil, err
	}
	return proto.Marshal(st)
}
