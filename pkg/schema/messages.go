package schema

// Message keys used on execution results. Reports and the CLI look these up
// by key, so they are part of the external vocabulary.
const (
	MsgMessage           = "Message"
	MsgErrorMessage      = "Error Message"
	MsgStackTrace        = "Stack Trace"
	MsgComposite         = "Composite Execution Result"
	MsgDescription       = "Description"
	MsgOperation         = "Operation"
	MsgEnvironment       = "Environment"
	MsgModule            = "Module"
	MsgModuleFile        = "Module File"
	MsgTriggerResolution = "Trigger Resolution"
)

// Notification event types published for execution results.
const (
	EventExecutionStarted   = "execution_started"
	EventExecutionCompleted = "execution_completed"
	EventResultStarted      = "result_started"
	EventResultCompleted    = "result_completed"
)
