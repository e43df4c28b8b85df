package wire

// Status prefixes of the line-based client-node dialogue. Every reply line
// starts with one of these.
const (
	StatusOK          = "OK_200"
	StatusCreated     = "OK_201"
	StatusBadRequest  = "ERR_400"
	StatusForbidden   = "ERR_403"
	StatusNotFound    = "ERR_404"
	StatusConflict    = "ERR_409"
	StatusInternalErr = "ERR_500"
)

// Sentinel lines terminating multi-line replies.
const (
	EndOfFile       = "END_OF_FILE"
	EndOfCheckpoint = "END_OF_CHECKPOINT"
	EndOfList       = "END_OF_LIST"
	EndOfRequests   = "END_OF_REQUESTS"
	StreamComplete  = "STREAM_COMPLETE"
	StreamStopped   = "STREAM_STOPPED"
	StreamPaused    = "STREAM_PAUSED"
	StreamResumed   = "STREAM_RESUMED"
)

// Stream control verbs a client may send mid-stream.
const (
	StreamCtlStop   = "STOP"
	StreamCtlPause  = "PAUSE"
	StreamCtlResume = "RESUME"
)
