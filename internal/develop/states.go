package develop

// State is one node of the develop state machine.
type State string

// Pipeline phases.
const (
	StateInitializing            State = "initializing"
	StateCustomizingSchema       State = "customizingSchema"
	StateSourcingNodes           State = "sourcingNodes"
	StateBuildingSchema          State = "buildingSchema"
	StateCreatingPages           State = "creatingPages"
	StateCreatingPagesStatefully State = "creatingPagesStatefully"
	StateExtractingQueries       State = "extractingQueries"
	StateWritingRequires         State = "writingRequires"
	StateCalculatingDirtyQueries State = "calculatingDirtyQueries"
	StateRunningStaticQueries    State = "runningStaticQueries"
	StateRunningPageQueries      State = "runningPageQueries"
	StateWaitingForJobs          State = "waitingForJobs"
	StateRunningWebpack          State = "runningWebpack"
)

// Control states.
const (
	StateIdle                  State = "idle"
	StateBatchingNodeMutations State = "batchingNodeMutations"
	StateCommittingBatch       State = "committingBatch"
	StateRefreshing            State = "refreshing"
	StateFailed                State = "failed"
)

func (s State) String() string { return string(s) }

// IsPhase reports whether s invokes a pipeline phase.
func (s State) IsPhase() bool {
	switch s {
	case StateInitializing, StateCustomizingSchema, StateSourcingNodes, StateBuildingSchema,
		StateCreatingPages, StateCreatingPagesStatefully, StateExtractingQueries, StateWritingRequires,
		StateCalculatingDirtyQueries, StateRunningStaticQueries, StateRunningPageQueries,
		StateWaitingForJobs, StateRunningWebpack:
		return true
	}
	return false
}

// AppliesImmediately reports whether mutations received in s go straight to
// the store. In every other state they are deferred to the batch.
func (s State) AppliesImmediately() bool {
	switch s {
	case StateInitializing, StateCustomizingSchema, StateSourcingNodes, StateBuildingSchema:
		return true
	}
	return false
}

// FatalOnFailure reports whether a failed invocation in s ends the session.
func (s State) FatalOnFailure() bool {
	switch s {
	case StateInitializing, StateWritingRequires, StateRunningWebpack,
		StateRefreshing, StateCommittingBatch:
		return true
	}
	return false
}
