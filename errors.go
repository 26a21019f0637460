package safelink

import "errors"

// Sentinel errors shared across the sensor's packages. Callers compare
// with errors.Is; none carry structured payloads.
var (
	// ErrCaptureUnavailable is returned when an interface cannot be
	// opened for live capture (missing permissions, interface down,
	// pcap handle allocation failure).
	ErrCaptureUnavailable = errors.New("safelink: capture engine unavailable for interface")

	// ErrSnifferAlreadyRunning is returned by the sniffer supervisor's
	// Start when it is invoked on an already-running sensor.
	ErrSnifferAlreadyRunning = errors.New("safelink: sniffer already running")

	// ErrSnifferNotRunning is returned by the sniffer supervisor's Stop
	// when invoked while no session is running.
	ErrSnifferNotRunning = errors.New("safelink: sniffer not running")

	// ErrModelCheckpointMismatch is returned when a classifier checkpoint
	// is loaded whose feature schema checksum does not match the
	// checksum recorded at save time.
	ErrModelCheckpointMismatch = errors.New("safelink: model checkpoint schema mismatch")

	// ErrValidationRejected names a candidate model that failed the
	// accuracy/loss gate. The continuous learner does not return it: a
	// rejected cycle is reported as a CycleRecord with Outcome
	// CycleRejected and a nil error.
	ErrValidationRejected = errors.New("safelink: candidate model failed validation gate")

	// ErrQueueOverflow names a frame or event dropped from a full bounded
	// buffer. The non-blocking enqueue paths (worker lanes, broadcast
	// subscriber queues) do not return it; they count the drop instead.
	ErrQueueOverflow = errors.New("safelink: queue overflow, item dropped")

	// ErrUnknownInterface names an interface not present in the
	// Interface Registry. Registry.Get reports that case by returning nil
	// and does not return this error.
	ErrUnknownInterface = errors.New("safelink: unknown interface")

	// ErrSchemaVersionUnknown names a schema version the feature registry
	// has no record of. Registry.Get reports that case with ok=false and
	// does not return this error.
	ErrSchemaVersionUnknown = errors.New("safelink: unknown feature schema version")

	// ErrIndicatorExpired names a threat indicator whose TTL has elapsed.
	// threatintel.Store.Lookup does not return it: an expired match is
	// deactivated and reported as a miss with a nil error.
	ErrIndicatorExpired = errors.New("safelink: threat indicator expired")

	// ErrLearnerBusy is returned by the continuous learner's manual
	// train-now request when a cycle is already in progress; surfaced
	// as 409 at the control surface.
	ErrLearnerBusy = errors.New("safelink: learner cycle already in progress")
)
