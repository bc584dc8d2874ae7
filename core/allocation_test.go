package core

import (
	"math"
	"testing"
)

func demoLoads() []NodeLoad {
	return []NodeLoad{
		{Name: "hospital_south", Capacity: 1000, Demand: 800, Criticality: 1, Elasticity: 0.1, Priority: 1, Critical: true},
		{Name: "transit_hub", Capacity: 400, Demand: 200, Criticality: 0.6, Elasticity: 0.4, Priority: 0.7},
		{Name: "shelter_west", Capacity: 200, Demand: 50, Criticality: 0.8, Elasticity: 0.2, Priority: 0.8},
		{Name: "mall_lowpri", Capacity: 200, Demand: 0, Criticality: 0.1, Elasticity: 0.9, Priority: 0.1},
	}
}

func allEnergized(loads []NodeLoad) map[string]bool {
	m := make(map[string]bool, len(loads))
	for _, n := range loads {
		m[n.Name] = true
	}
	return m
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestAllocateServesCriticalFirst(t *testing.T) {
	loads := demoLoads()
	got := NewAllocator().Allocate(loads, allEnergized(loads), 1000)

	if got["hospital_south"] != 800 {
		t.Fatalf("hospital_south supply = %v, want 800", got["hospital_south"])
	}
	// 200 left over, split by demand*score: transit 200*0.65, shelter 50*0.8.
	if want := 200 * 130.0 / 170.0; !approx(got["transit_hub"], want) {
		t.Fatalf("transit_hub supply = %v, want %v", got["transit_hub"], want)
	}
	if want := 200 * 40.0 / 170.0; !approx(got["shelter_west"], want) {
		t.Fatalf("shelter_west supply = %v, want %v", got["shelter_west"], want)
	}
	if got["mall_lowpri"] != 0 {
		t.Fatalf("mall_lowpri supply = %v, want 0", got["mall_lowpri"])
	}
}

func TestAllocateAmplePoolMeetsDemand(t *testing.T) {
	loads := demoLoads()
	got := NewAllocator().Allocate(loads, allEnergized(loads), 1e6)
	for _, n := range loads {
		if !approx(got[n.Name], n.Demand) {
			t.Fatalf("%s supply = %v, want %v", n.Name, got[n.Name], n.Demand)
		}
	}
}

func TestAllocateWaterFillsExcess(t *testing.T) {
	loads := []NodeLoad{
		{Name: "a", Capacity: 100, Demand: 100, Criticality: 1, Priority: 1},
		{Name: "b", Capacity: 100, Demand: 100, Elasticity: 1},
	}
	got := NewAllocator().Allocate(loads, allEnergized(loads), 150)

	if !approx(got["a"], 100) {
		t.Fatalf("a supply = %v, want 100", got["a"])
	}
	if !approx(got["b"], 50) {
		t.Fatalf("b supply = %v, want 50 (excess from a should flow to b)", got["b"])
	}
}

func TestAllocateNeverExceedsCapacity(t *testing.T) {
	loads := []NodeLoad{
		{Name: "crit", Capacity: 100, Demand: 500, Critical: true, Priority: 1},
		{Name: "reg", Capacity: 10, Demand: 90, Priority: 0.5},
	}
	got := NewAllocator().Allocate(loads, allEnergized(loads), 1000)
	if got["crit"] != 100 {
		t.Fatalf("crit supply = %v, want capacity 100", got["crit"])
	}
	if got["reg"] != 10 {
		t.Fatalf("reg supply = %v, want capacity 10", got["reg"])
	}
}

func TestAllocateCriticalOrderingByScore(t *testing.T) {
	loads := []NodeLoad{
		{Name: "low", Capacity: 100, Demand: 100, Critical: true, Priority: 0.1},
		{Name: "high", Capacity: 100, Demand: 100, Critical: true, Priority: 0.9},
	}
	got := NewAllocator().Allocate(loads, allEnergized(loads), 120)
	if got["high"] != 100 || !approx(got["low"], 20) {
		t.Fatalf("allocation = %v, want high=100 low=20", got)
	}
}

func TestAllocateSkipsDeenergized(t *testing.T) {
	loads := demoLoads()
	energized := allEnergized(loads)
	energized["transit_hub"] = false

	got := NewAllocator().Allocate(loads, energized, 1e6)
	if got["transit_hub"] != 0 {
		t.Fatalf("de-energized transit_hub supply = %v, want 0", got["transit_hub"])
	}
	if got["hospital_south"] != 800 {
		t.Fatalf("hospital_south supply = %v, want 800", got["hospital_south"])
	}
}

func TestAllocateEmptyPool(t *testing.T) {
	loads := demoLoads()
	got := NewAllocator().Allocate(loads, allEnergized(loads), 0)
	for name, v := range got {
		if v != 0 {
			t.Fatalf("%s supply = %v with empty pool", name, v)
		}
	}
}

func TestScoreFloor(t *testing.T) {
	a := NewAllocator()
	if got := a.Score(NodeLoad{Elasticity: 1}); got != DefaultScoreFloor {
		t.Fatalf("Score of zero-weighted node = %v, want floor %v", got, DefaultScoreFloor)
	}
	if got := a.Score(NodeLoad{Priority: 1, Criticality: 1}); !approx(got, 1.0) {
		t.Fatalf("Score of maximal node = %v, want 1", got)
	}
}

func TestShortfall(t *testing.T) {
	if got := Shortfall(10, 4); got != 6 {
		t.Fatalf("Shortfall(10,4) = %v", got)
	}
	if got := Shortfall(4, 10); got != 0 {
		t.Fatalf("Shortfall(4,10) = %v", got)
	}
}
