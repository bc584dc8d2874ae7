package model

// Topology is the full static description a world is bootstrapped from.
type Topology struct {
	Name     string     `yaml:"name" json:"name"`
	Nodes    []*Node    `yaml:"nodes" json:"nodes"`
	Segments []*Segment `yaml:"segments" json:"segments"`
}
