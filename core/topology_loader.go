package core

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/gridworld-simulator/kb"
	"github.com/signalsfoundry/gridworld-simulator/model"
)

// TopologySummary is a small summary of what was loaded, mainly for logs.
type TopologySummary struct {
	Name     string
	NodeIDs  []string
	Segments []string
}

// DecodeTopology parses a YAML (or JSON, which YAML accepts) topology
// document. Unknown fields are rejected so typos surface at startup.
func DecodeTopology(r io.Reader) (*model.Topology, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("DecodeTopology: read failed: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var topo model.Topology
	if err := dec.Decode(&topo); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("DecodeTopology: %w: empty document", kb.ErrInvalidArgument)
		}
		return nil, fmt.Errorf("DecodeTopology: decode failed: %w", err)
	}
	for i, n := range topo.Nodes {
		if n == nil {
			return nil, fmt.Errorf("DecodeTopology: %w: node entry %d is empty", kb.ErrInvalidArgument, i)
		}
	}
	for i, s := range topo.Segments {
		if s == nil {
			return nil, fmt.Errorf("DecodeTopology: %w: segment entry %d is empty", kb.ErrInvalidArgument, i)
		}
	}
	return &topo, nil
}

// LoadTopology decodes a topology from r and registers it in reg.
func LoadTopology(reg *kb.Registry, r io.Reader) (*TopologySummary, error) {
	if reg == nil {
		return nil, fmt.Errorf("LoadTopology: registry is nil")
	}
	topo, err := DecodeTopology(r)
	if err != nil {
		return nil, err
	}
	if err := reg.LoadTopology(topo); err != nil {
		return nil, fmt.Errorf("LoadTopology: %w", err)
	}
	return Summarize(topo), nil
}

// LoadTopologyFile is LoadTopology for a path on disk.
func LoadTopologyFile(reg *kb.Registry, path string) (*TopologySummary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open topology %q: %w", path, err)
	}
	defer f.Close()
	return LoadTopology(reg, f)
}

// DemoTopology is the built-in four-node ring used when no topology file is
// configured.
func DemoTopology() *model.Topology {
	return &model.Topology{
		Name: "demo-ring",
		Nodes: []*model.Node{
			{
				Name: "hospital_south", Capacity: 1000, BaselineDemand: 800, InitialDemand: 800,
				Criticality: 1.0, Elasticity: 0.1, Priority: 1.0, Critical: true,
			},
			{
				Name: "transit_hub", Capacity: 400, BaselineDemand: 200, InitialDemand: 200,
				Criticality: 0.6, Elasticity: 0.4, Priority: 0.7,
			},
			{
				Name: "shelter_west", Capacity: 200, BaselineDemand: 50, InitialDemand: 50,
				Criticality: 0.8, Elasticity: 0.2, Priority: 0.8,
			},
			{
				Name: "mall_lowpri", Capacity: 200, BaselineDemand: 0, InitialDemand: 0,
				Criticality: 0.1, Elasticity: 0.9, Priority: 0.1,
			},
		},
		Segments: []*model.Segment{
			{Name: "segA", Source: "hospital_south", Target: "transit_hub", Weight: 500},
			{Name: "segB", Source: "transit_hub", Target: "shelter_west", Weight: 300},
			{Name: "segC", Source: "shelter_west", Target: "mall_lowpri", Weight: 200},
			{Name: "segD", Source: "mall_lowpri", Target: "hospital_south", Weight: 500},
		},
	}
}

// Summarize lists the node and segment names of t.
func Summarize(t *model.Topology) *TopologySummary {
	s := &TopologySummary{
		Name:     t.Name,
		NodeIDs:  make([]string, 0, len(t.Nodes)),
		Segments: make([]string, 0, len(t.Segments)),
	}
	for _, n := range t.Nodes {
		s.NodeIDs = append(s.NodeIDs, n.Name)
	}
	for _, seg := range t.Segments {
		s.Segments = append(s.Segments, seg.Name)
	}
	return s
}
