package board

// Lane priority bands (§4.B).
const (
	FastlaneBase  = 900
	MainlaneBase  = 500
	BatchlaneBase = 100
)

// ComputeJobPriorityForTask returns the job priority for t: an explicit
// override replaces the lane default outright when present (no clamping
// to lane bounds; see DESIGN.md Open Questions).
func ComputeJobPriorityForTask(t *Task, override *int) int {
	if override != nil {
		return *override
	}
	if t.PriorityOverride != nil {
		return *t.PriorityOverride
	}
	switch t.Lane {
	case LaneFast:
		return FastlaneBase
	case LaneBatch:
		return BatchlaneBase
	default:
		return MainlaneBase
	}
}
