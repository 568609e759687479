package supervisor

// State is the supervisor's activation state.
type State string

const (
	// StateOff means no collectors are running and every slot is empty.
	StateOff State = "off"

	// StateOn means one collector has been started per configured command.
	StateOn State = "on"
)

// Phase is the lifecycle phase of a single slot's collector.
type Phase string

const (
	// PhaseStopped means no collector is running for the slot.
	PhaseStopped Phase = "stopped"

	// PhaseRunning means the slot's collector process is alive.
	PhaseRunning Phase = "running"

	// PhaseFailed means the collector could not be spawned or exited on its
	// own. The slot stays failed until the next reload or off/on cycle.
	PhaseFailed Phase = "failed"
)

// Report is a consistent snapshot of the supervisor and its slots.
//
// A Report is built entirely inside one supervisor step, so it never mixes
// state from before and after a transition.
type Report struct {
	State      State        `json:"state"`
	Generation uint64       `json:"generation"`
	Slots      []SlotReport `json:"slots"`
}

// SlotReport describes one slot in a [Report].
type SlotReport struct {
	Index   int    `json:"index"`
	Name    string `json:"name"`
	Command string `json:"command"`
	Phase   Phase  `json:"phase"`

	// Reason explains a failed phase.
	Reason string `json:"reason,omitempty"`

	// PID is the collector's process group leader, zero when not running.
	PID int `json:"pid,omitempty"`

	// GroupPIDs lists every live process in the collector's group, the
	// leader included. More than the command's own pipeline usually means
	// it leaked children.
	GroupPIDs []int `json:"group_pids,omitempty"`

	Value    string `json:"value"`
	HasValue bool   `json:"has_value"`
	Fresh    bool   `json:"fresh"`

	// AgeMillis is the age of Value at report time.
	AgeMillis int64 `json:"age_ms"`

	// TTLMillis is the freshness window; zero means values never expire.
	TTLMillis int64 `json:"ttl_ms"`

	LogPath      string `json:"log_path"`
	LogBytes     int64  `json:"log_bytes"`
	LogLines     int    `json:"log_lines"`
	LogAgeMillis int64  `json:"log_age_ms,omitempty"`
}

// Running returns the number of slots whose collector is running.
func (r Report) Running() int {
	n := 0
	for _, s := range r.Slots {
		if s.Phase == PhaseRunning {
			n++
		}
	}
	return n
}
