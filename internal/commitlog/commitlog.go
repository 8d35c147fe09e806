// Copyright © 2024 Kaleido, Inc.
//
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package commitlog is the state ledger. Each consumed state is recorded once,
// against the transaction that consumed it, and never updated or removed.
package commitlog

import (
	"context"
	"time"

	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/internal/flushwriter"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/internal/msgs"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/log"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/persistence"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/ucconf"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/uniqueness"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"gorm.io/gorm/clause"
)

const commitSavepoint = "uq_commit"

// Entry is one row of the commit log
type Entry struct {
	StateRef      uniqueness.StateRef
	ConsumingTxID string
	ConsumedAt    time.Time
}

// CommitOutcome has every conflicting ref when the commit was rejected, and is empty on success
type CommitOutcome struct {
	Conflicts []uniqueness.StateConflict
}

func (co *CommitOutcome) Committed() bool {
	return len(co.Conflicts) == 0
}

// RecordedResult is the decision for a transaction, and the hash of the request it was made for
type RecordedResult struct {
	RequestHash string
	Result      uniqueness.Result
}

// DecisionFunc makes one decision inside the group-commit DB transaction. An error
// rolls back only the writes of this decision.
type DecisionFunc func(ctx context.Context, dbTX persistence.DBTX) (uniqueness.Result, error)

type CommitLog interface {
	Start()
	Stop()

	// Lookup returns the consumed subset of refs, mapped to the consuming transaction.
	// It is advisory only, as the answer may be stale by the time it is used.
	Lookup(ctx context.Context, dbTX persistence.DBTX, refs []uniqueness.StateRef) (map[uniqueness.StateRef]string, error)
	// LookupIssued returns the subset of refs that were issued by a successful transaction
	LookupIssued(ctx context.Context, dbTX persistence.DBTX, refs []uniqueness.StateRef) (map[uniqueness.StateRef]string, error)
	// TryCommit consumes all the refs for txID, or none of them
	TryCommit(ctx context.Context, dbTX persistence.DBTX, txID string, refs []uniqueness.StateRef, ts time.Time) (*CommitOutcome, error)
	RecordIssued(ctx context.Context, dbTX persistence.DBTX, txID string, numOutputs int, ts time.Time) error
	// RecordResult stores the decision for a request. The first recorded result for a transaction wins.
	RecordResult(ctx context.Context, dbTX persistence.DBTX, req *uniqueness.Request, result uniqueness.Result, ts time.Time) error
	// GetResult returns nil if no decision is recorded for the transaction
	GetResult(ctx context.Context, dbTX persistence.DBTX, txID string) (*RecordedResult, error)
	EntriesForTx(ctx context.Context, dbTX persistence.DBTX, txID string) ([]*Entry, error)

	// Decide queues a decision to the group-commit writer, and waits for it to be committed.
	// The decision holds a lock on txID until the DB transaction ends, so concurrent
	// decisions for one transaction are serialized across processes.
	// The committed callback, if supplied, runs once the DB transaction has committed
	// even if the caller has stopped waiting.
	Decide(ctx context.Context, txID string, fn DecisionFunc, committed func(uniqueness.Result)) (uniqueness.Result, error)
}

type commitLog struct {
	p      persistence.Persistence
	writer flushwriter.Writer[*decision, uniqueness.Result]
}

func NewCommitLog(bgCtx context.Context, p persistence.Persistence, conf *ucconf.FlushWriterConfig) CommitLog {
	cl := &commitLog{p: p}
	cl.writer = flushwriter.NewWriter(bgCtx, cl.runBatch, p, conf, &ucconf.CheckerDefaults.Writer)
	return cl
}

func (cl *commitLog) Start() {
	cl.writer.Start()
}

func (cl *commitLog) Stop() {
	cl.writer.Shutdown()
}

func (cl *commitLog) Lookup(ctx context.Context, dbTX persistence.DBTX, refs []uniqueness.StateRef) (map[uniqueness.StateRef]string, error) {
	found := make(map[uniqueness.StateRef]string)
	if len(refs) == 0 {
		return found, nil
	}
	var rows []*dbConsumedState
	err := dbTX.DB().
		WithContext(ctx).
		Where("state_ref IN (?)", uniqueness.StateRefStrings(refs)).
		Find(&rows).
		Error
	if err != nil {
		return nil, err
	}
	byString := refsByString(refs)
	for _, row := range rows {
		found[byString[row.StateRef]] = row.ConsumingTxID
	}
	return found, nil
}

func (cl *commitLog) LookupIssued(ctx context.Context, dbTX persistence.DBTX, refs []uniqueness.StateRef) (map[uniqueness.StateRef]string, error) {
	found := make(map[uniqueness.StateRef]string)
	if len(refs) == 0 {
		return found, nil
	}
	var rows []*dbIssuedState
	err := dbTX.DB().
		WithContext(ctx).
		Where("state_ref IN (?)", uniqueness.StateRefStrings(refs)).
		Find(&rows).
		Error
	if err != nil {
		return nil, err
	}
	byString := refsByString(refs)
	for _, row := range rows {
		found[byString[row.StateRef]] = row.IssueTxID
	}
	return found, nil
}

func refsByString(refs []uniqueness.StateRef) map[string]uniqueness.StateRef {
	m := make(map[string]uniqueness.StateRef, len(refs))
	for _, ref := range refs {
		m[ref.String()] = ref
	}
	return m
}

func (cl *commitLog) TryCommit(ctx context.Context, dbTX persistence.DBTX, txID string, refs []uniqueness.StateRef, ts time.Time) (*CommitOutcome, error) {
	if len(refs) == 0 {
		return &CommitOutcome{}, nil
	}

	// Sorted inserts mean two transactions never wait on each other's locks in opposite orders
	sorted := uniqueness.SortStateRefs(refs)
	rows := make([]*dbConsumedState, len(sorted))
	for i, ref := range sorted {
		rows[i] = &dbConsumedState{
			StateRef:       ref.String(),
			IssueTxID:      ref.TxID,
			IssueOutputIdx: ref.OutputIndex,
			ConsumingTxID:  txID,
			ConsumedAt:     toDBTime(ts),
		}
	}

	db := dbTX.DB().WithContext(ctx)
	if err := db.SavePoint(commitSavepoint).Error; err != nil {
		return nil, err
	}
	err := db.
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rows).
		Error
	if err != nil {
		return nil, err
	}

	// Whoever holds each ref now is the answer, whether we inserted it or not
	holders, err := cl.Lookup(ctx, dbTX, sorted)
	if err != nil {
		return nil, err
	}
	outcome := &CommitOutcome{}
	for _, ref := range sorted {
		holder, ok := holders[ref]
		if !ok {
			return nil, i18n.NewError(ctx, msgs.MsgCommitLogNoDecision, txID)
		}
		if holder != txID {
			outcome.Conflicts = append(outcome.Conflicts, uniqueness.StateConflict{
				StateRef:      ref,
				ConsumingTxID: holder,
			})
		}
	}
	if !outcome.Committed() {
		log.L(ctx).Infof("Transaction %s conflicts on %d of %d inputs", txID, len(outcome.Conflicts), len(sorted))
		if err := db.RollbackTo(commitSavepoint).Error; err != nil {
			return nil, err
		}
	}
	return outcome, nil
}

func (cl *commitLog) RecordIssued(ctx context.Context, dbTX persistence.DBTX, txID string, numOutputs int, ts time.Time) error {
	if numOutputs == 0 {
		return nil
	}
	rows := make([]*dbIssuedState, numOutputs)
	for i := range rows {
		rows[i] = &dbIssuedState{
			StateRef:       uniqueness.NewStateRef(txID, i).String(),
			IssueTxID:      txID,
			IssueOutputIdx: i,
			IssuedAt:       toDBTime(ts),
		}
	}
	return dbTX.DB().
		WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rows).
		Error
}

func (cl *commitLog) RecordResult(ctx context.Context, dbTX persistence.DBTX, req *uniqueness.Request, result uniqueness.Result, ts time.Time) error {
	b, err := uniqueness.MarshalResult(result)
	if err != nil {
		return err
	}
	row := &dbTxResult{
		TxID:        req.TxID,
		RequestHash: req.Hash(),
		ResultKind:  string(result.Kind()),
		Result:      string(b),
		RecordedAt:  toDBTime(ts),
	}
	if req.Originator != "" {
		row.Originator = &req.Originator
	}
	return dbTX.DB().
		WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}). // immutable
		Create(row).
		Error
}

func (cl *commitLog) GetResult(ctx context.Context, dbTX persistence.DBTX, txID string) (*RecordedResult, error) {
	var rows []*dbTxResult
	err := dbTX.DB().
		WithContext(ctx).
		Where("tx_id = ?", txID).
		Limit(1).
		Find(&rows).
		Error
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	result, err := uniqueness.UnmarshalResult(ctx, []byte(rows[0].Result))
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgCommitLogStoredResultInvalid, txID)
	}
	return &RecordedResult{
		RequestHash: rows[0].RequestHash,
		Result:      result,
	}, nil
}

func (cl *commitLog) EntriesForTx(ctx context.Context, dbTX persistence.DBTX, txID string) ([]*Entry, error) {
	var rows []*dbConsumedState
	err := dbTX.DB().
		WithContext(ctx).
		Where("consuming_tx_id = ?", txID).
		Order("state_ref").
		Find(&rows).
		Error
	if err != nil {
		return nil, err
	}
	entries := make([]*Entry, len(rows))
	for i, row := range rows {
		entries[i] = &Entry{
			StateRef:      uniqueness.NewStateRef(row.IssueTxID, row.IssueOutputIdx),
			ConsumingTxID: row.ConsumingTxID,
			ConsumedAt:    fromDBTime(row.ConsumedAt),
		}
	}
	return entries, nil
}
