package control

import "github.com/usnistgov/delila/record"

// Metrics is the optional payload a status response carries, per spec.md
// §6's response schema.
type Metrics struct {
	EventsProcessed  uint64  `json:"events_processed"`
	BytesTransferred uint64  `json:"bytes_transferred"`
	QueueSize        int     `json:"queue_size"`
	QueueMax         int     `json:"queue_max"`
	EventRate        float64 `json:"event_rate"`
	DataRate         float64 `json:"data_rate"`
}

// Response is the JSON envelope every command returns.
type Response struct {
	RequestID    uint32   `json:"request_id"`
	Success      bool     `json:"success"`
	ErrorCode    uint16   `json:"error_code"`
	CurrentState string   `json:"current_state"`
	Message      string   `json:"message"`
	Metrics      *Metrics `json:"metrics,omitempty"`
}

// Error codes carried in Response.ErrorCode. 0 means success.
const (
	ErrCodeNone             uint16 = 0
	ErrCodeIllegalState     uint16 = 1
	ErrCodeNotPrerequisite  uint16 = 2
	ErrCodeInternal         uint16 = 3
)

// EmptyArgs is the request payload for commands that carry nothing beyond
// the envelope's request_id: Arm, Stop, Reset, GetStatus, Ping.
type EmptyArgs struct {
	RequestID uint32 `json:"request_id"`
}

// ConfigureArgs is the request payload for Configure.
type ConfigureArgs struct {
	RequestID uint32          `json:"request_id"`
	Run       record.RunConfig `json:"payload"`
}

// StartArgs is the request payload for Start.
type StartArgs struct {
	RequestID uint32 `json:"request_id"`
	RunNumber int    `json:"run_number"`
}

// Commander is the set of operations a component's command handler
// implements. Service calls a Commander method and, when it succeeds,
// applies the matching Watcher.SetState. Components also change their own
// state in two places: ForceError on a fatal data-plane error, and the
// Recorder's return to Configured after it receives EndOfStream.
type Commander interface {
	Configure(run record.RunConfig) error
	Arm() error
	Start(runNumber int) error
	Stop() error
	Reset() error
	Metrics() Metrics
}
