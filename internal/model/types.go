package model

import "math"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

type EventType string

const (
	EventPocketFitness     EventType = "PopulationBestFitnessPocket"
	EventBestFitness       EventType = "PopulationBestFitness"
	EventAgentConstruct    EventType = "AgentConstruct"
	EventCurrentMutate     EventType = "AgentCurrentMutate"
	EventCurrentRecombine  EventType = "AgentCurrentRecombine"
	EventPocketLocalSearch EventType = "AgentPocketLocalSearch"
	EventBubbleUp          EventType = "AgentBubbleUp"
)

// Known reports whether the tag is one of the event types the reconstruction reads.
func (t EventType) Known() bool {
	switch t {
	case EventPocketFitness, EventBestFitness, EventAgentConstruct, EventCurrentMutate,
		EventCurrentRecombine, EventPocketLocalSearch, EventBubbleUp:
		return true
	}
	return false
}

// Solution is one model expression together with its fitness and error.
// Fitness and Error are NaN when the log carries the "not a number" sentinel.
type Solution struct {
	Model   string  `json:"model,omitempty"`
	Fitness float64 `json:"fitness"`
	Error   float64 `json:"error"`
}

func (s Solution) HasFitness() bool {
	return !math.IsNaN(s.Fitness)
}

// LogRecord is one line of a master log, decoded once into named fields.
type LogRecord struct {
	Line       int       `json:"line"`
	Time       string    `json:"time"`
	Generation int       `json:"generation"`
	Type       EventType `json:"type"`
	Agent      int       `json:"agent"`

	// Current holds the single solution carried by pocket, best-fitness and construct events.
	Current Solution `json:"current"`
	// Pre and Post bracket an operator application (mutate, recombine, local search).
	// Bubble-up events carry the parent's solution in Pre.
	Pre  Solution `json:"pre"`
	Post Solution `json:"post"`

	Child         int      `json:"child"`
	ChildSolution Solution `json:"child_solution"`

	Raw []string `json:"-"`
}

// Improved reports whether the operator strictly lowered fitness.
func (r LogRecord) Improved() bool {
	return r.Post.Fitness < r.Pre.Fitness
}

// FitnessTrack is the pocket fitness history of every agent slot.
// X is the generation axis; Ys[agent] accumulates independently per agent, so
// len(Ys[agent]) may be shorter than len(X) when an agent skipped a generation.
type FitnessTrack struct {
	X    []int       `json:"x"`
	Ys   [][]float64 `json:"ys"`
	Gens [][]int     `json:"gens"`
}

type Degree int

const (
	DegreeLeft Degree = iota
	DegreeCenter
	DegreeRight
)

// Overlay marks the generations at which one operator touched an agent, paired
// with the agent's pocket fitness at that generation. Ys only holds the
// lookups that matched, so it can be shorter than Xs; Hit[agent][i] tells
// whether Xs[agent][i] owns the next Ys value.
type Overlay struct {
	Operator EventType   `json:"operator"`
	Xs       [][]int     `json:"xs"`
	Ys       [][]float64 `json:"ys"`
	Hit      [][]bool    `json:"hit,omitempty"`
	Degrees  [][]Degree  `json:"degrees,omitempty"`
	Misses   int         `json:"misses"`
}

type Snapshot struct {
	Generation    int          `json:"generation"`
	Cutoff        int          `json:"cutoff"`
	Final         bool         `json:"final"`
	Track         FitnessTrack `json:"track"`
	Mutation      Overlay      `json:"mutation"`
	LocalSearch   Overlay      `json:"local_search"`
	BubbleUp      Overlay      `json:"bubble_up"`
	Recombination Overlay      `json:"recombination"`
	DegreeCounts  [][3]int     `json:"degree_counts"`
}

// RunRecord describes one processed log. BestFitness is the lowest finite final
// pocket fitness over all agents and is nil when no agent has one.
type RunRecord struct {
	VersionedRecord
	RunID         string   `json:"run_id"`
	LogPath       string   `json:"log_path"`
	AnimationPath string   `json:"animation_path,omitempty"`
	Records       int      `json:"records"`
	Generations   int      `json:"generations"`
	Snapshots     int      `json:"snapshots"`
	Frames        int      `json:"frames"`
	Misses        int      `json:"misses"`
	BestFitness   *float64 `json:"best_fitness,omitempty"`
	CreatedAtUTC  string   `json:"created_at_utc"`
}

// SnapshotRecord is the persisted digest of one snapshot.
type SnapshotRecord struct {
	VersionedRecord
	RunID          string   `json:"run_id"`
	Generation     int      `json:"generation"`
	Cutoff         int      `json:"cutoff"`
	Final          bool     `json:"final"`
	Mutations      int      `json:"mutations"`
	LocalSearches  int      `json:"local_searches"`
	BubbleUps      int      `json:"bubble_ups"`
	Recombinations int      `json:"recombinations"`
	DegreeCounts   [][3]int `json:"degree_counts"`
	Misses         int      `json:"misses"`
	FramePath      string   `json:"frame_path,omitempty"`
}
