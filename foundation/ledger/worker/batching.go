package worker

import (
	"context"
	"errors"

	"github.com/birthmark/provenance/foundation/ledger/state"
)

// batchingOperations commits validated submissions into blocks on the
// batch interval or on demand.
func (w *Worker) batchingOperations() {
	w.evHandler("worker: batchingOperations: G started")
	defer w.evHandler("worker: batchingOperations: G completed")

	for {
		select {
		case <-w.batchTicker.C:
			if !w.isShutdown() {
				w.runBatchCycle()
			}
		case <-w.startBatching:
			if !w.isShutdown() {
				w.runBatchCycle()
			}
		case <-w.shut:
			w.evHandler("worker: batchingOperations: received shut signal")
			return
		}
	}
}

// runBatchCycle performs one batch cycle. The cycle is not reentrant;
// state serializes the commit path internally.
func (w *Worker) runBatchCycle() {
	w.evHandler("worker: runBatchCycle: BATCH: started")
	defer w.evHandler("worker: runBatchCycle: BATCH: completed")

	// A failed cycle must never take the loop down with it.
	defer func() {
		if rec := recover(); rec != nil {
			w.evHandler("worker: runBatchCycle: BATCH: PANIC: %v", rec)
		}
	}()

	block, err := w.state.RunBatchCycle(context.Background())
	if err != nil {
		switch {
		case errors.Is(err, state.ErrNoPending):
			w.evHandler("worker: runBatchCycle: BATCH: nothing to commit")
		default:
			w.evHandler("worker: runBatchCycle: BATCH: ERROR: %s", err)
		}
		return
	}

	w.evHandler("worker: runBatchCycle: BATCH: committed blk[%d] hash[%s]", block.Height, block.BlockHash)
}

// validationOperations asks the authority for verdicts on staged
// submissions on the validate interval.
func (w *Worker) validationOperations() {
	w.evHandler("worker: validationOperations: G started")
	defer w.evHandler("worker: validationOperations: G completed")

	for {
		select {
		case <-w.validateTicker.C:
			if !w.isShutdown() {
				w.runValidationPass()
			}
		case <-w.shut:
			w.evHandler("worker: validationOperations: received shut signal")
			return
		}
	}
}

// runValidationPass performs one validation pass over the staged
// submissions that are due.
func (w *Worker) runValidationPass() {
	defer func() {
		if rec := recover(); rec != nil {
			w.evHandler("worker: runValidationPass: VALIDATE: PANIC: %v", rec)
		}
	}()

	if err := w.state.ProcessPendingValidations(context.Background()); err != nil {
		w.evHandler("worker: runValidationPass: VALIDATE: ERROR: %s", err)
	}
}
