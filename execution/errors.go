package execution

import "fmt"

// Hard stop sources.
const (
	SourceRisk      = "risk"
	SourceBehaviour = "behaviour"
)

// HardStopError ends a run. Reason is the code of the guard that fired,
// e.g. FTMO_DAILY_HARD_STOP or BEHAVIOUR_HARD_BLOCK.
type HardStopError struct {
	Reason string
	Source string
}

func (e *HardStopError) Error() string {
	return fmt.Sprintf("hard stop by %s: %s", e.Source, e.Reason)
}
