package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/birthmark/provenance/foundation/ledger/authority"
	"github.com/birthmark/provenance/foundation/ledger/database"
	"github.com/birthmark/provenance/foundation/ledger/signature"
	"github.com/birthmark/provenance/foundation/ledger/validator"
)

// validationBatchLimit bounds how many staged submissions one validation
// pass takes on.
const validationBatchLimit = 100

// ProcessPendingValidations takes the staged submissions that are due
// and asks the authority for a verdict on each token. A valid verdict
// moves the submission to validated; anything else schedules a bounded
// retry and rejects after the last attempt.
func (s *State) ProcessPendingValidations(ctx context.Context) error {
	due, err := s.db.PendingForValidation(validationBatchLimit, s.maxRetries, time.Now())
	if err != nil {
		return fmt.Errorf("reading staged submissions: %w", err)
	}

	for _, sub := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := s.validateOne(ctx, sub); err != nil {
			return err
		}
	}

	return nil
}

func (s *State) validateOne(ctx context.Context, sub database.PendingSubmission) error {
	var token authority.Token
	if err := json.Unmarshal([]byte(sub.TokenJSON), &token); err != nil {
		sub.Status = database.StatusRejected
		sub.StatusMessage = fmt.Sprintf("malformed token: %v", err)
		return s.db.UpdatePending(sub)
	}

	result, err := s.tokens.ValidateToken(ctx, token, sub.AuthorityID)
	if err != nil {
		return fmt.Errorf("validating token for submission %d: %w", sub.ID, err)
	}

	if result.Valid {
		sub.Status = database.StatusValidated
		sub.StatusMessage = result.Message
		s.evHandler("state: validate: sub[%d] validated cached[%v]", sub.ID, result.Cached)
		return s.db.UpdatePending(sub)
	}

	sub.RetryCount++
	sub.StatusMessage = result.Message

	if sub.RetryCount >= s.maxRetries {
		sub.Status = database.StatusRejected
		s.evHandler("state: validate: sub[%d] rejected: %s", sub.ID, result.Message)
		return s.db.UpdatePending(sub)
	}

	// Exponential backoff between attempts.
	backoff := s.retryBackoff << (sub.RetryCount - 1)
	sub.NextRetry = time.Now().Add(backoff)
	s.evHandler("state: validate: sub[%d] retry[%d] in %s: %s", sub.ID, sub.RetryCount, backoff, result.Message)

	return s.db.UpdatePending(sub)
}

// =============================================================================

// RunBatchCycle collects the validated submissions, groups them into
// batch transactions, runs the business rules, asks the consensus
// engine for a proposal, and commits the approved block. The whole
// cycle is serialized so only one block can be in flight.
func (s *State) RunBatchCycle(ctx context.Context) (database.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ready, err := s.db.PendingForBatch(s.batchMax)
	if err != nil {
		return database.Block{}, fmt.Errorf("reading validated submissions: %w", err)
	}
	if len(ready) == 0 {
		return database.Block{}, ErrNoPending
	}

	// Below the minimum the submissions stay staged and wait for the
	// next cycle. Partial batches are never committed.
	if len(ready) < s.batchMin {
		s.evHandler("state: batch: waiting: have[%d] need[%d]", len(ready), s.batchMin)
		return database.Block{}, ErrNoPending
	}

	txs, ids, err := s.assembleBatches(ready)
	if err != nil {
		return database.Block{}, err
	}
	if len(txs) == 0 {
		return database.Block{}, ErrNoPending
	}

	proposal, err := s.engine.ProposeBlock(ctx, txs, s.nodeID, s.keys)
	if err != nil {
		return database.Block{}, fmt.Errorf("proposing block: %w", err)
	}
	if proposal == nil {
		return database.Block{}, ErrNoPending
	}

	block, err := s.db.StoreBlock(
		proposal.BlockHeight,
		proposal.PreviousHash,
		proposal.Timestamp,
		proposal.ValidatorID,
		proposal.Transactions,
		proposal.Signature,
	)
	if err != nil {
		return database.Block{}, fmt.Errorf("storing block: %w", err)
	}

	if err := s.db.MarkBatched(ids); err != nil {
		return database.Block{}, fmt.Errorf("marking submissions batched: %w", err)
	}

	if err := s.engine.BroadcastBlock(ctx, proposal); err != nil {
		s.evHandler("state: batch: broadcast failed: %s", err)
	}

	s.evHandler("viewer: block: height[%d] hash[%s] hashes[%d]", block.Height, block.BlockHash, len(ids))

	return block, nil
}

// assembleBatches groups the ready submissions by submitter into batch
// transactions and runs the business rules over each one. A group still
// below the batch minimum is left staged for a later cycle. A batch that
// violates a rule is dropped from the block and its submissions are
// rejected; the rest of the block goes ahead.
func (s *State) assembleBatches(ready []database.PendingSubmission) ([]database.BatchTx, []uint64, error) {
	grouped := make(map[string][]database.PendingSubmission)
	order := make([]string, 0)
	for _, sub := range ready {
		if _, exists := grouped[sub.SubmitterID]; !exists {
			order = append(order, sub.SubmitterID)
		}
		grouped[sub.SubmitterID] = append(grouped[sub.SubmitterID], sub)
	}

	var txs []database.BatchTx
	var ids []uint64

	for _, submitterID := range order {
		subs := grouped[submitterID]

		// Grouping by submitter can leave one group under the minimum
		// even when the whole cycle is over it. Those wait as well.
		if len(subs) < s.batchMin {
			s.evHandler("state: batch: submitter[%s] waiting: have[%d] need[%d]", submitterID, len(subs), s.batchMin)
			continue
		}

		tx := database.BatchTx{SubmitterID: submitterID}
		batchIDs := make([]uint64, 0, len(subs))

		for _, sub := range subs {
			tx.ImageHashes = append(tx.ImageHashes, sub.ImageHash)
			tx.Timestamps = append(tx.Timestamps, sub.Timestamp)
			tx.Levels = append(tx.Levels, sub.ModificationLevel)
			tx.ParentHashes = append(tx.ParentHashes, sub.ParentImageHash)
			tx.GPSHashes = append(tx.GPSHashes, sub.GPSHash)
			tx.OwnerHashes = append(tx.OwnerHashes, sub.OwnerHash)
			batchIDs = append(batchIDs, sub.ID)
		}

		sig, err := s.keys.Sign([]byte(signature.ComputeTransactionHash(tx.ImageHashes, tx.Timestamps, tx.SubmitterID)))
		if err != nil {
			return nil, nil, fmt.Errorf("signing batch for %s: %w", submitterID, err)
		}
		tx.Signature = sig

		if err := s.validator.ValidateBatch(tx); err != nil {
			if !validator.IsRuleError(err) {
				return nil, nil, fmt.Errorf("validating batch for %s: %w", submitterID, err)
			}

			s.evHandler("state: batch: submitter[%s] rejected: %s", submitterID, err)
			if err := s.rejectSubmissions(subs, err.Error()); err != nil {
				return nil, nil, err
			}
			continue
		}

		txs = append(txs, tx)
		ids = append(ids, batchIDs...)
	}

	return txs, ids, nil
}

func (s *State) rejectSubmissions(subs []database.PendingSubmission, reason string) error {
	for _, sub := range subs {
		sub.Status = database.StatusRejected
		sub.StatusMessage = reason
		if err := s.db.UpdatePending(sub); err != nil {
			return fmt.Errorf("rejecting submission %d: %w", sub.ID, err)
		}
	}
	return nil
}
