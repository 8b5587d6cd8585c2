package types

// FrameRecord is the serialized form of one published simulation pass
type FrameRecord struct {
	Seq       uint64       `json:"seq"`
	Time      float64      `json:"time"`
	ComputeMS float64      `json:"compute_ms"`
	Bodies    []BodyRecord `json:"bodies"`
	Rays      []RayRecord  `json:"rays,omitempty"`
	Absorbed  int          `json:"absorbed"`
	Escaped   int          `json:"escaped"`
	Exhausted int          `json:"exhausted"`
}

// BodyRecord represents a body's resolved state at the frame time
type BodyRecord struct {
	ID       int        `json:"id"`
	Name     string     `json:"name"`
	Mass     float64    `json:"mass"`
	Radius   float64    `json:"radius"`
	Position [3]float64 `json:"position"`
}

// RayRecord represents one traced ray
type RayRecord struct {
	ID          int          `json:"id"`
	Termination string       `json:"termination"`
	Steps       int          `json:"steps"`
	Points      [][3]float64 `json:"points"`
}

// MassUpdate is the request body for interactive mass edits.
// Delta is applied when Mass is nil.
type MassUpdate struct {
	Mass  *float64 `json:"mass,omitempty"`
	Delta float64  `json:"delta,omitempty"`
}
