package orchestrator

// Event kinds streamed to batch callers.
const (
	KindProgress = "progress"
	KindComplete = "complete"
	KindError    = "error"
)

// Event is one element of the batch progress stream. A run emits zero or more
// progress events followed by exactly one terminal complete or error event.
type Event struct {
	Kind    string   `json:"kind"`
	Athlete int64    `json:"athlete,omitempty"`
	Found   bool     `json:"found,omitempty"`
	Reason  string   `json:"reason,omitempty"`
	Summary *Summary `json:"summary,omitempty"`
	Message string   `json:"message,omitempty"`
}

// AthleteSummary records one athlete's outcome within a run.
type AthleteSummary struct {
	Athlete int64  `json:"athlete"`
	Found   bool   `json:"found"`
	Reason  string `json:"reason,omitempty"`
}

// Summary is the terminal report of a batch run, in processing order.
type Summary struct {
	RunID     string           `json:"run_id"`
	WeekID    string           `json:"week_id"`
	Processed int              `json:"processed"`
	Found     int              `json:"found"`
	Failed    int              `json:"failed"`
	Athletes  []AthleteSummary `json:"athletes"`
}
