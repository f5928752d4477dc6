package app

// StopReason records why the process is shutting down; it only affects log
// output, never shutdown behavior.
type StopReason string

const (
	ReasonSignal StopReason = "signal"
	ReasonFatal  StopReason = "fatal"
)
