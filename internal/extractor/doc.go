// Package extractor drives an extraction run: it builds the work list for each
// stage, paces and dispatches fetches, merges each finished batch into the
// corpus before advancing the checkpoint, and recomputes statistics once the
// work list is exhausted.
//
// Per-identifier fetch failures never abort a run; they are recorded in the
// checkpoint and reported as error events. Persistence failures are fatal and
// surface as ErrPersistence. A cancelled context stops the run between
// identifiers, discards the unfinished batch and returns ErrInterrupted.
package extractor
