package drift

// State is a stage of the drift lifecycle.
type State string

const (
	StateIngested            State = "INGESTED"
	StateEligibilityChecked  State = "ELIGIBILITY_CHECKED"
	StateSignalsCorrelated   State = "SIGNALS_CORRELATED"
	StateDriftClassified     State = "DRIFT_CLASSIFIED"
	StateDocsResolved        State = "DOCS_RESOLVED"
	StateDocsFetched         State = "DOCS_FETCHED"
	StateDocContextExtracted State = "DOC_CONTEXT_EXTRACTED"
	StateBaselineChecked     State = "BASELINE_CHECKED"
	StatePatchPlanned        State = "PATCH_PLANNED"
	StatePatchGenerated      State = "PATCH_GENERATED"
	StatePatchValidated      State = "PATCH_VALIDATED"
	StateOwnerResolved       State = "OWNER_RESOLVED"
	StateSlackSent           State = "SLACK_SENT"
	StateAwaitingHuman       State = "AWAITING_HUMAN"
	StateApproved            State = "APPROVED"
	StateRejected            State = "REJECTED"
	StateEditRequested       State = "EDIT_REQUESTED"
	StateSnoozed             State = "SNOOZED"
	StateWritebackValidated  State = "WRITEBACK_VALIDATED"
	StateWrittenBack         State = "WRITTEN_BACK"
	StateCompleted           State = "COMPLETED"
	StateFailed              State = "FAILED"
	StateFailedNeedsMapping  State = "FAILED_NEEDS_MAPPING"
)

// stateOrder assigns every state a position in the nominal forward order.
// The human-gated branch states share the AWAITING_HUMAN successor slot.
var stateOrder = map[State]int{
	StateIngested:            0,
	StateEligibilityChecked:  1,
	StateSignalsCorrelated:   2,
	StateDriftClassified:     3,
	StateDocsResolved:        4,
	StateDocsFetched:         5,
	StateDocContextExtracted: 6,
	StateBaselineChecked:     7,
	StatePatchPlanned:        8,
	StatePatchGenerated:      9,
	StatePatchValidated:      10,
	StateOwnerResolved:       11,
	StateSlackSent:           12,
	StateAwaitingHuman:       13,
	StateApproved:            14,
	StateRejected:            14,
	StateEditRequested:       14,
	StateSnoozed:             14,
	StateWritebackValidated:  15,
	StateWrittenBack:         16,
	StateCompleted:           17,
	StateFailed:              17,
	StateFailedNeedsMapping:  17,
}

// backEdges are the only permitted regressions in the state graph,
// each triggered by explicit human action. Declared here so the cycle
// structure is visible in one place.
var backEdges = map[State]State{
	StateEditRequested: StatePatchGenerated,
	StateSnoozed:       StateAwaitingHuman,
}

// Order returns the state's position in the nominal order, or -1 for
// unknown states.
func (s State) Order() int {
	if n, ok := stateOrder[s]; ok {
		return n
	}
	return -1
}

// Terminal reports whether the lifecycle ends at this state.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateRejected, StateFailed, StateFailedNeedsMapping:
		return true
	}
	return false
}

// Waiting reports whether the state pauses the pipeline until an
// external trigger arrives. Waiting states are never re-enqueued.
func (s State) Waiting() bool {
	return s == StateAwaitingHuman || s == StateSnoozed
}

// ValidTransition reports whether moving from one state to the next is
// legal: forward along the nominal order, a declared back-edge, a side
// exit to a failure state, or a retry of the same state.
func ValidTransition(from, to State) bool {
	if from.Order() < 0 || to.Order() < 0 {
		return false
	}
	if from == to {
		return true
	}
	if to == StateFailed || to == StateFailedNeedsMapping {
		return true
	}
	if target, ok := backEdges[from]; ok && to == target {
		return true
	}
	return to.Order() > from.Order()
}
