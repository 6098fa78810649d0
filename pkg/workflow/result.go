package workflow

// StepResult records one step's outcome within a WorkflowResult, in the
// order the step was encountered during execution.
type StepResult struct {
	StepID     string
	Type       StepType
	Success    bool
	Output     StepOutput
	Error      string
	DurationMs int64
}

// WorkflowResult is what Executor.Execute always returns: the executor
// never panics or propagates an error to the caller, so every failure
// mode (validation, a step's fail_workflow, a timeout, cancellation) is
// expressed as Success=false plus a human-readable Error.
type WorkflowResult struct {
	Success         bool
	Output          any
	StepResults     []StepResult
	ExecutionTimeMs int64
	Error           string
}
