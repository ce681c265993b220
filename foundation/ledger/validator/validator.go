// Package validator enforces the business rules a candidate batch must
// satisfy before it can be included in a block. The rules run in a fixed
// order and stop at the first violation; a batch is accepted or rejected
// as a whole.
package validator

import (
	"errors"
	"fmt"
	"time"

	"github.com/birthmark/provenance/foundation/ledger/database"
	"github.com/birthmark/provenance/foundation/ledger/signature"
)

// LedgerReader is the narrow read access the validator needs for the
// on-chain duplicate check.
type LedgerReader interface {
	HasImageHash(imageHash string) (bool, error)
}

// Clock skew tolerances for submitted timestamps.
const (
	maxFutureSkew = 5 * time.Minute
	maxAge        = 365 * 24 * time.Hour
)

// RuleError indicates a batch violated a business rule. The batch is
// well formed enough to be inspected but must not be included in a
// block.
type RuleError struct {
	Reason string
}

// Error implements the error interface.
func (re *RuleError) Error() string {
	return re.Reason
}

func ruleErrorf(format string, args ...any) *RuleError {
	return &RuleError{Reason: fmt.Sprintf(format, args...)}
}

// Config holds the tunable limits for the validator.
type Config struct {
	// AuthorizedSubmitters restricts who may submit batches. A nil
	// set allows everyone.
	AuthorizedSubmitters map[string]bool

	BatchSizeMin int
	BatchSizeMax int
}

// Validator checks candidate batches against the business rules.
type Validator struct {
	cfg    Config
	ledger LedgerReader
	now    func() time.Time
}

// New constructs a Validator over the specified ledger reader.
func New(cfg Config, ledger LedgerReader) *Validator {
	return &Validator{
		cfg:    cfg,
		ledger: ledger,
		now:    time.Now,
	}
}

// ValidateBatch runs all the business rules over the candidate batch.
// A nil return means the batch may be included in a block. A *RuleError
// return names the first rule the batch violated. Any other error is an
// infrastructure failure, not a verdict.
func (v *Validator) ValidateBatch(tx database.BatchTx) error {

	// Rule 1: the submitter must be authorized.
	if v.cfg.AuthorizedSubmitters != nil && !v.cfg.AuthorizedSubmitters[tx.SubmitterID] {
		return ruleErrorf("unauthorized submitter: %s", tx.SubmitterID)
	}

	// Rule 2: every image hash must be 64 hex characters.
	for _, h := range tx.ImageHashes {
		if !signature.VerifyHashFormat(h) {
			return ruleErrorf("invalid hash format: %s", h)
		}
	}

	// Rule 3: the parallel arrays must agree in length.
	if len(tx.ImageHashes) != len(tx.Timestamps) {
		return ruleErrorf("image hashes and timestamps length mismatch")
	}
	if tx.GPSHashes != nil && len(tx.GPSHashes) != len(tx.ImageHashes) {
		return ruleErrorf("gps hashes length mismatch")
	}

	// Rule 4: no duplicate hashes within the batch.
	seen := make(map[string]bool, len(tx.ImageHashes))
	for _, h := range tx.ImageHashes {
		norm := signature.Normalize(h)
		if seen[norm] {
			return ruleErrorf("duplicate hash within batch: %s", norm)
		}
		seen[norm] = true
	}

	// Rule 5: no hash may already be on the ledger.
	for _, h := range tx.ImageHashes {
		exists, err := v.ledger.HasImageHash(h)
		if err != nil {
			return fmt.Errorf("checking ledger for %s: %w", h, err)
		}
		if exists {
			return ruleErrorf("hash already on ledger: %s", signature.Normalize(h))
		}
	}

	// Rule 6: timestamps must be recent and not from the future.
	now := v.now().Unix()
	for _, ts := range tx.Timestamps {
		if ts > now+int64(maxFutureSkew.Seconds()) {
			return ruleErrorf("timestamp in future: %d", ts)
		}
		if ts < now-int64(maxAge.Seconds()) {
			return ruleErrorf("timestamp too old: %d", ts)
		}
	}

	// Rule 7: the batch size must be within the configured limits.
	if len(tx.ImageHashes) < v.cfg.BatchSizeMin {
		return ruleErrorf("batch too small: %d < %d", len(tx.ImageHashes), v.cfg.BatchSizeMin)
	}
	if len(tx.ImageHashes) > v.cfg.BatchSizeMax {
		return ruleErrorf("batch too large: %d > %d", len(tx.ImageHashes), v.cfg.BatchSizeMax)
	}

	return nil
}

// IsRuleError tests the error for being a business rule violation as
// opposed to an infrastructure failure.
func IsRuleError(err error) bool {
	var re *RuleError
	return errors.As(err, &re)
}
