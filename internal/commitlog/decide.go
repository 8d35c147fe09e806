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

package commitlog

import (
	"context"
	"fmt"

	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/internal/flushwriter"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/internal/msgs"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/log"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/persistence"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/uniqueness"
	"github.com/hyperledger/firefly-common/pkg/i18n"
)

type decision struct {
	txID      string
	fn        DecisionFunc
	committed func(uniqueness.Result)
}

// All decisions for one transaction go to the same worker, so copies of a
// request are decided one after the other
func (d *decision) WriteKey() string {
	return d.txID
}

// Other checker processes sharing the database are excluded by a named lock
func (d *decision) lockName() string {
	return "uniqueness_tx:" + d.txID
}

func (cl *commitLog) Decide(ctx context.Context, txID string, fn DecisionFunc, committed func(uniqueness.Result)) (uniqueness.Result, error) {
	op := cl.writer.Queue(ctx, &decision{
		txID:      txID,
		fn:        fn,
		committed: committed,
	})
	return op.WaitFlushed(ctx)
}

// Each decision runs in its own savepoint, so one failed decision does not
// abort the others sharing the DB transaction
func (cl *commitLog) runBatch(ctx context.Context, dbTX persistence.DBTX, decisions []*decision) ([]flushwriter.Result[uniqueness.Result], error) {
	log.L(ctx).Debugf("Deciding %d transactions", len(decisions))
	db := dbTX.DB().WithContext(ctx)
	results := make([]flushwriter.Result[uniqueness.Result], len(decisions))
	for i, d := range decisions {
		savepoint := fmt.Sprintf("uq_decision_%d", i)
		if err := db.SavePoint(savepoint).Error; err != nil {
			return nil, err
		}
		dCtx := log.WithLogField(ctx, "txId", d.txID)
		var result uniqueness.Result
		err := cl.p.TakeNamedLock(dCtx, dbTX, d.lockName())
		if err == nil {
			result, err = d.fn(dCtx, dbTX)
		}
		if err == nil && result == nil {
			err = i18n.NewError(dCtx, msgs.MsgCommitLogNoDecision, d.txID)
		}
		if err != nil {
			log.L(dCtx).Errorf("Decision failed: %s", err)
			if rbErr := db.RollbackTo(savepoint).Error; rbErr != nil {
				return nil, rbErr
			}
			results[i] = flushwriter.Result[uniqueness.Result]{Err: err}
			continue
		}
		results[i] = flushwriter.Result[uniqueness.Result]{
			R:                  result,
			DBTXResultCallback: d.onTXResult(dCtx, result),
		}
	}
	return results, nil
}

func (d *decision) onTXResult(ctx context.Context, result uniqueness.Result) func(error) {
	return func(txErr error) {
		if txErr != nil {
			log.L(ctx).Warnf("Decision %s rolled back: %s", result.Kind(), txErr)
			return
		}
		if d.committed != nil {
			d.committed(result)
		}
	}
}
