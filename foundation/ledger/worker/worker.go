// Package worker implements the background processing for the ledger:
// token validation of staged submissions and the periodic batching of
// validated submissions into blocks.
package worker

import (
	"sync"
	"time"

	"github.com/birthmark/provenance/foundation/ledger/state"
)

// Defaults for the background intervals.
const (
	DefaultBatchInterval    = time.Minute
	DefaultValidateInterval = 10 * time.Second
)

// Worker manages the validation and batching workflows for the ledger.
type Worker struct {
	state          *state.State
	wg             sync.WaitGroup
	batchTicker    *time.Ticker
	validateTicker *time.Ticker
	shut           chan struct{}
	startBatching  chan bool
	evHandler      state.EventHandler
}

// Run creates a worker, registers it with the state package, and starts
// up all the background processes.
func Run(st *state.State, batchInterval time.Duration, validateInterval time.Duration, evHandler state.EventHandler) {
	if batchInterval <= 0 {
		batchInterval = DefaultBatchInterval
	}
	if validateInterval <= 0 {
		validateInterval = DefaultValidateInterval
	}

	w := Worker{
		state:          st,
		batchTicker:    time.NewTicker(batchInterval),
		validateTicker: time.NewTicker(validateInterval),
		shut:           make(chan struct{}),
		startBatching:  make(chan bool, 1),
		evHandler:      evHandler,
	}

	// Register this worker with the state package.
	st.Worker = &w

	// Load the set of operations we need to run.
	operations := []func(){
		w.validationOperations,
		w.batchingOperations,
	}

	// Set waitgroup to match the number of G's we need for the set
	// of operations we have.
	g := len(operations)
	w.wg.Add(g)

	// We don't want to return until we know all the G's are up and running.
	hasStarted := make(chan bool)

	for _, op := range operations {
		go func(op func()) {
			defer w.wg.Done()
			hasStarted <- true
			op()
		}(op)
	}

	for i := 0; i < g; i++ {
		<-hasStarted
	}
}

// =============================================================================
// These methods implement the state.Worker interface.

// Shutdown terminates the goroutines performing work.
func (w *Worker) Shutdown() {
	w.evHandler("worker: shutdown: started")
	defer w.evHandler("worker: shutdown: completed")

	w.evHandler("worker: shutdown: stop tickers")
	w.batchTicker.Stop()
	w.validateTicker.Stop()

	w.evHandler("worker: shutdown: terminate goroutines")
	close(w.shut)
	w.wg.Wait()
}

// SignalBatching requests a batch cycle outside the regular interval. If
// a signal is already pending, a cycle is coming anyway.
func (w *Worker) SignalBatching() {
	select {
	case w.startBatching <- true:
		w.evHandler("worker: SignalBatching: batch cycle signaled")
	default:
	}
}

// =============================================================================

// isShutdown is used to test if a shutdown has been signaled.
func (w *Worker) isShutdown() bool {
	select {
	case <-w.shut:
		return true
	default:
		return false
	}
}
