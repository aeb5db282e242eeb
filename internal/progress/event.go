package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/renec-harvester/internal/renec"
)

// Kind names a milestone in an extraction run.
type Kind string

// Event kinds in the order a run emits them.
const (
	KindStarted         Kind = "started"
	KindProgress        Kind = "progress"
	KindECExtracted     Kind = "ec_extracted"
	KindError           Kind = "error"
	KindBatchComplete   Kind = "batch_complete"
	KindCheckpointSaved Kind = "checkpoint_saved"
	KindCompleted       Kind = "completed"
)

// Event captures one observable step of an extraction run.
type Event struct {
	// RunID identifies the run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS   time.Time
	Kind Kind
	// Stage is empty for run-level events (started, completed, run errors).
	Stage renec.Stage
	Mode  renec.Mode

	// Processed and Total describe progress through the stage work list.
	Processed int
	Total     int
	// Current is the identifier about to be fetched.
	Current string

	// Codigo is the identifier an ec_extracted or per-item error refers to.
	// An error event with neither Codigo nor Stage is a run-level failure.
	Codigo     string
	Certifiers int
	Training   int
	Message    string

	Batch     int
	Batches   int
	Succeeded int
	Skipped   int
	Failed    int

	// Stats is set on completed events.
	Stats *renec.ExtractionStats
	Dur   time.Duration
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindStarted:
	case KindProgress:
		if e.Processed < 1 || e.Processed > e.Total {
			return fmt.Errorf("progress %d/%d out of range", e.Processed, e.Total)
		}
	case KindECExtracted:
		if e.Codigo == "" {
			return errors.New("ec_extracted requires codigo")
		}
	case KindError:
		if e.Message == "" {
			return errors.New("error requires message")
		}
	case KindBatchComplete:
		if e.Batch < 1 || e.Batch > e.Batches {
			return fmt.Errorf("batch %d/%d out of range", e.Batch, e.Batches)
		}
	case KindCheckpointSaved:
		if e.Stage == "" {
			return errors.New("checkpoint_saved requires stage")
		}
	case KindCompleted:
		if e.Stats == nil {
			return errors.New("completed requires stats")
		}
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// RunFailed reports whether e marks the whole run as failed.
func (e Event) RunFailed() bool {
	return e.Kind == KindError && e.Codigo == "" && e.Stage == ""
}

// Terminal reports whether e ends a run. Terminal events are never dropped
// by the Hub.
func (e Event) Terminal() bool {
	return e.Kind == KindCompleted || e.RunFailed()
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
