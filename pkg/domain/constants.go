package domain

// Phase data keys written by the coordinator itself.
const (
	KeyPlanPrefix       = "plan."
	KeyAllocationWorker = "allocation.worker_type"
	KeyAllocationNode   = "allocation.node_id"
	KeyExecutingAttempt = "executing.attempt"
	KeyExecutingError   = "executing.last_error"
	KeyExecutionError   = "execution.error"
	KeyValidationError  = "validation.error"
	KeyValidationStatus = "validation.status"
	KeyFailureKind      = "failure.kind"
	KeyCancelReason     = "cancel.reason"
	KeyAbandoned        = "abandoned"
	KeyAbandonedReason  = "abandoned.reason"
)
