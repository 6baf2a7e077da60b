package types

// Processing chain activation modes.
const (
	ChainModeAuto   = "auto"
	ChainModeManual = "manual"
)

// Acquisition file states.
const (
	FileStateInProgress = "in_progress"
	FileStateValid      = "valid"
	FileStateInvalid    = "invalid"
	FileStateAcquired   = "acquired"
	FileStateError      = "error"
)

// Product file-completeness states.
const (
	ProductStateAcquiring = "acquiring"
	ProductStateCompleted = "completed"
	ProductStateFinished  = "finished"
	ProductStateUpdated   = "updated"
)

// Product submission (SIP) states. The empty string means the product has
// never been scheduled for generation.
const (
	SIPStateNotScheduled         = ""
	SIPStateScheduled            = "scheduled"
	SIPStateGenerationError      = "generation_error"
	SIPStateSubmitted            = "submitted"
	SIPStateIngested             = "ingested"
	SIPStateIngestionFailed      = "ingestion_failed"
	SIPStateScheduledInterrupted = "scheduled_interrupted"
)

// Job run statuses and types (see internal/jobs).
const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
	JobStatusAborted   = "aborted"
)

const (
	JobTypeProductAcquisition = "product_acquisition"
	JobTypeSIPGeneration      = "sip_generation"
	JobTypeProductDeletion    = "product_deletion"
)

// sipTransitions is the forward-only transition table. Retry
// (generation_error/ingestion_failed -> scheduled) and interruption
// (scheduled/submitted -> scheduled_interrupted) are the only backward edges.
var sipTransitions = map[string][]string{
	SIPStateNotScheduled:         {SIPStateScheduled},
	SIPStateScheduled:            {SIPStateSubmitted, SIPStateGenerationError, SIPStateScheduledInterrupted},
	SIPStateGenerationError:      {SIPStateScheduled, SIPStateSubmitted},
	SIPStateSubmitted:            {SIPStateIngested, SIPStateIngestionFailed, SIPStateScheduledInterrupted},
	SIPStateIngestionFailed:      {SIPStateScheduled},
	SIPStateScheduledInterrupted: {SIPStateScheduled},
}

// CanTransitSIPState reports whether moving a product from one submission
// state to another is legal.
func CanTransitSIPState(from, to string) bool {
	for _, allowed := range sipTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminalSIPState reports whether the submission state can never change
// again through normal event routing.
func IsTerminalSIPState(state string) bool {
	return state == SIPStateIngested
}

// IsInFlightSIPState reports whether the product currently has generation or
// ingestion work outstanding.
func IsInFlightSIPState(state string) bool {
	return state == SIPStateScheduled || state == SIPStateSubmitted
}

// IsTerminalJobStatus reports whether a job run reached a final status.
func IsTerminalJobStatus(status string) bool {
	return status == JobStatusSucceeded || status == JobStatusFailed || status == JobStatusAborted
}
