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

// Package checker decides uniqueness checks against the commit log.
//
// A check is decided once. Every later check of the same request, including a
// redelivery, returns the recorded decision. A different request reusing the
// transaction ID is rejected as malformed and never decided.
package checker

import (
	"context"
	"time"

	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/internal/commitlog"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/internal/metrics"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/internal/msgs"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/cache"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/confutil"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/log"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/persistence"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/retry"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/ucconf"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/uniqueness"
	"github.com/hyperledger/firefly-common/pkg/i18n"
)

// Clock supplies the evaluation time for time windows and commit timestamps
type Clock func() time.Time

type Checker interface {
	// Check returns an error only when no decision could be made. Every business
	// outcome, including a malformed request, is a result.
	Check(ctx context.Context, req *uniqueness.Request) (uniqueness.Result, error)
}

type checker struct {
	policy    ucconf.ReferenceStatePolicy
	commitLog commitlog.CommitLog
	metrics   metrics.CheckerMetrics
	clock     Clock
	retry     *retry.Retry
	results   cache.Cache[string, *commitlog.RecordedResult]
}

func NewChecker(ctx context.Context, conf *ucconf.CheckerConfig, commitLog commitlog.CommitLog, m metrics.CheckerMetrics, clock Clock) (Checker, error) {
	policy := ucconf.ReferenceStatePolicy(confutil.StringNotEmpty(conf.ReferenceStatePolicy, *ucconf.CheckerDefaults.ReferenceStatePolicy))
	switch policy {
	case ucconf.ReferenceStatePolicyUnconsumed, ucconf.ReferenceStatePolicyTracked, ucconf.ReferenceStatePolicyIgnore:
	default:
		return nil, i18n.NewError(ctx, msgs.MsgCheckerInvalidReferencePolicy, policy)
	}
	if clock == nil {
		clock = time.Now
	}
	log.L(ctx).Infof("Uniqueness checker referenceStatePolicy=%s", policy)
	return &checker{
		policy:    policy,
		commitLog: commitLog,
		metrics:   m,
		clock:     clock,
		retry:     retry.NewRetryLimited(&conf.Retry, &ucconf.CheckerDefaults.Retry),
		results:   cache.NewCache[string, *commitlog.RecordedResult](&conf.ResultCache, &ucconf.CheckerDefaults.ResultCache),
	}, nil
}

func (c *checker) Check(ctx context.Context, req *uniqueness.Request) (uniqueness.Result, error) {
	ctx = log.WithLogField(ctx, "txId", req.TxID)
	startTime := time.Now()
	defer func() { c.metrics.ObserveCheck(time.Since(startTime)) }()

	if err := req.Validate(ctx); err != nil {
		log.L(ctx).Warnf("Malformed request: %s", err)
		c.metrics.IncResult(string(uniqueness.ResultKindMalformedRequest))
		return &uniqueness.MalformedRequest{ErrorText: err.Error()}, nil
	}

	if recorded, ok := c.results.Get(req.TxID); ok {
		log.L(ctx).Debugf("Replaying cached %s result", recorded.Result.Kind())
		return c.observe(ctx, c.replay(ctx, req, recorded)), nil
	}

	o, err := retry.DoValue(ctx, c.retry, func(attempt int) (*outcome, bool, error) {
		o, err := c.decideWithReplay(ctx, req)
		return o, true, err
	})
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgCheckerUnavailable, req.TxID)
	}
	return c.observe(ctx, o), nil
}

// outcome is a result, and whether it was decided now or earlier
type outcome struct {
	result   uniqueness.Result
	replayed bool
}

func (c *checker) observe(ctx context.Context, o *outcome) uniqueness.Result {
	if o.replayed {
		c.metrics.IncReplay()
	} else {
		c.metrics.IncResult(string(o.result.Kind()))
	}
	log.L(ctx).Infof("Uniqueness check result=%s replay=%t", o.result.Kind(), o.replayed)
	return o.result
}

// replay returns the recorded decision when it was made for this request
func (c *checker) replay(ctx context.Context, req *uniqueness.Request, recorded *commitlog.RecordedResult) *outcome {
	if !req.MatchesHash(recorded.RequestHash) {
		err := i18n.NewError(ctx, msgs.MsgRequestTxIDReused, req.TxID)
		log.L(ctx).Warnf("Rejecting request: %s", err)
		return &outcome{result: &uniqueness.MalformedRequest{ErrorText: err.Error()}}
	}
	return &outcome{result: recorded.Result, replayed: true}
}

func (c *checker) decideWithReplay(ctx context.Context, req *uniqueness.Request) (*outcome, error) {
	var recorded *commitlog.RecordedResult
	var o *outcome
	_, err := c.commitLog.Decide(ctx, req.TxID, func(ctx context.Context, dbTX persistence.DBTX) (_ uniqueness.Result, err error) {
		recorded, err = c.commitLog.GetResult(ctx, dbTX, req.TxID)
		if err != nil {
			return nil, err
		}
		if recorded != nil {
			o = c.replay(ctx, req, recorded)
			return o.result, nil
		}
		recorded, err = c.decide(ctx, dbTX, req)
		if err != nil {
			return nil, err
		}
		o = &outcome{result: recorded.Result}
		return o.result, nil
	}, func(uniqueness.Result) {
		c.results.Set(req.TxID, recorded)
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// decide runs the checks in order, and records the first failure or the success.
// The answer is the result as read back from the commit log, so it is the one
// every later replay returns.
func (c *checker) decide(ctx context.Context, dbTX persistence.DBTX, req *uniqueness.Request) (*commitlog.RecordedResult, error) {
	now := c.clock()
	result, err := c.evaluate(ctx, dbTX, req, now)
	if err != nil {
		return nil, err
	}
	if err := c.commitLog.RecordResult(ctx, dbTX, req, result, now); err != nil {
		return nil, err
	}
	recorded, err := c.commitLog.GetResult(ctx, dbTX, req.TxID)
	if err != nil {
		return nil, err
	}
	if recorded == nil || !req.MatchesHash(recorded.RequestHash) {
		// rolls back this decision, and the retry replays against the winner
		return nil, i18n.NewError(ctx, msgs.MsgCommitLogRecordConflict, req.TxID)
	}
	return recorded, nil
}

func (c *checker) evaluate(ctx context.Context, dbTX persistence.DBTX, req *uniqueness.Request, now time.Time) (uniqueness.Result, error) {
	if !req.InTimeWindow(now) {
		return &uniqueness.TimeWindowOutOfBounds{
			EvaluationTimestamp: now,
			LowerBound:          req.TimeWindowLowerBound,
			UpperBound:          req.TimeWindowUpperBound,
		}, nil
	}

	result, err := c.checkReferences(ctx, dbTX, req)
	if result != nil || err != nil {
		return result, err
	}

	if c.policy == ucconf.ReferenceStatePolicyTracked {
		unknown, err := c.unknownStates(ctx, dbTX, req.InputStates)
		if err != nil {
			return nil, err
		}
		if len(unknown) > 0 {
			return &uniqueness.InputStateUnknown{UnknownStates: unknown}, nil
		}
	}

	outcome, err := c.commitLog.TryCommit(ctx, dbTX, req.TxID, req.InputStates, now)
	if err != nil {
		return nil, err
	}
	if !outcome.Committed() {
		return &uniqueness.InputStateConflict{Conflicts: outcome.Conflicts}, nil
	}
	if err := c.commitLog.RecordIssued(ctx, dbTX, req.TxID, req.NumOutputStates, now); err != nil {
		return nil, err
	}
	return &uniqueness.Success{CommitTimestamp: now}, nil
}

func (c *checker) checkReferences(ctx context.Context, dbTX persistence.DBTX, req *uniqueness.Request) (uniqueness.Result, error) {
	if c.policy == ucconf.ReferenceStatePolicyIgnore || len(req.ReferenceStates) == 0 {
		return nil, nil
	}
	refs := uniqueness.SortStateRefs(req.ReferenceStates)

	if c.policy == ucconf.ReferenceStatePolicyTracked {
		unknown, err := c.unknownStates(ctx, dbTX, refs)
		if err != nil {
			return nil, err
		}
		if len(unknown) > 0 {
			return &uniqueness.ReferenceStateUnknown{UnknownStates: unknown}, nil
		}
	}

	consumed, err := c.commitLog.Lookup(ctx, dbTX, refs)
	if err != nil {
		return nil, err
	}
	var conflicts []uniqueness.StateConflict
	for _, ref := range refs {
		if holder, ok := consumed[ref]; ok && holder != req.TxID {
			conflicts = append(conflicts, uniqueness.StateConflict{StateRef: ref, ConsumingTxID: holder})
		}
	}
	if len(conflicts) > 0 {
		return &uniqueness.ReferenceStateConflict{Conflicts: conflicts}, nil
	}
	return nil, nil
}

func (c *checker) unknownStates(ctx context.Context, dbTX persistence.DBTX, refs []uniqueness.StateRef) ([]uniqueness.StateRef, error) {
	issued, err := c.commitLog.LookupIssued(ctx, dbTX, refs)
	if err != nil {
		return nil, err
	}
	var unknown []uniqueness.StateRef
	for _, ref := range uniqueness.SortStateRefs(refs) {
		if _, ok := issued[ref]; !ok {
			unknown = append(unknown, ref)
		}
	}
	return unknown, nil
}
