package operator

type State int

const (
	NotReady State = iota
	ReadyToUpload
	ReadyToStart
	ReadyToExecute
	ExecutionStarting
	Executing
	ExecutionPaused
	ExecutionStopping
	Idle
)

func (s State) String() string {
	switch s {
	case NotReady:
		return "NOT_READY"
	case ReadyToUpload:
		return "READY_TO_UPLOAD"
	case ReadyToStart:
		return "READY_TO_START"
	case ReadyToExecute:
		return "READY_TO_EXECUTE"
	case ExecutionStarting:
		return "EXECUTION_STARTING"
	case Executing:
		return "EXECUTING"
	case ExecutionPaused:
		return "EXECUTION_PAUSED"
	case ExecutionStopping:
		return "EXECUTION_STOPPING"
	case Idle:
		return "IDLE"
	default:
		return "UNKNOWN"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
