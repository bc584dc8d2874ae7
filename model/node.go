package model

// Node is the bootstrap definition of a demand point in the grid, e.g. a
// hospital or a transit hub. Live per-tick values are tracked by the
// simulation state, not here.
type Node struct {
	Name string `yaml:"name" json:"name"`

	// Capacity is the most supply the node can absorb in one tick.
	Capacity float64 `yaml:"capacity" json:"capacity"`
	// BaselineDemand is the unsurged demand the stepper derives current
	// demand from on every tick.
	BaselineDemand float64 `yaml:"baseline_demand" json:"baseline_demand"`
	// InitialDemand and InitialSupply seed the live state until the first
	// tick runs.
	InitialDemand float64 `yaml:"initial_demand" json:"initial_demand"`
	InitialSupply float64 `yaml:"initial_supply" json:"initial_supply"`

	// Weighting factors, each normalised to [0,1].
	Criticality float64 `yaml:"criticality" json:"criticality"`
	Elasticity  float64 `yaml:"elasticity" json:"elasticity"`
	Priority    float64 `yaml:"priority" json:"priority"`

	// Critical nodes are served before everyone else.
	Critical bool `yaml:"critical" json:"critical"`

	// Source marks a feeder (substation) node. When any source exists,
	// only nodes reachable from one over healthy segments are energized.
	Source bool `yaml:"source" json:"source"`
}
