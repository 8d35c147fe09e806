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

// Package client submits uniqueness checks to a remote checker over the bus.
//
// Each check is keyed by its transaction ID. Repeating a check returns the same
// result, and a check in progress when the process stops is resumed by Start.
// Reusing a transaction ID for a different request returns a MalformedRequest.
package client

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/internal/metrics"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/internal/msgs"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/bus"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/cache"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/confutil"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/inflight"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/log"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/persistence"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/retry"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/ucconf"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/uniqueness"
	"github.com/hyperledger/firefly-common/pkg/i18n"
)

const (
	OutcomeResult         = "result"
	OutcomeReplay         = "replay"
	OutcomeMalformed      = "malformed"
	OutcomeTransportError = "transport_error"
)

type Client interface {
	Start(ctx context.Context) error
	Stop()

	// RequestUniquenessCheck returns a result for every business outcome. An error
	// is returned only when the outcome is unknown, and is then a *uniqueness.TransportError.
	RequestUniquenessCheck(ctx context.Context, txID string, inputStates, referenceStates []string, numOutputStates int, lower *time.Time, upper time.Time) (uniqueness.Result, error)
	RequestUniquenessCheckStates(ctx context.Context, txID string, inputStates, referenceStates []uniqueness.StateRef, numOutputStates int, lower *time.Time, upper time.Time) (uniqueness.Result, error)
}

type ResponseVerifier interface {
	Verify(ctx context.Context, resp *uniqueness.Response) error
}

type checkOutcome struct {
	resp *uniqueness.Response
	err  error
}

type client struct {
	bgCtx              context.Context
	cancelCtx          context.CancelFunc
	checkerDestination string
	replyDestination   string
	requestTimeout     time.Duration
	sendRetry          *retry.Retry
	bus                bus.Bus
	p                  persistence.Persistence
	verifier           ResponseVerifier
	metrics            metrics.ClientMetrics
	inflight           *inflight.InflightManager[string, *checkOutcome]
	completed          cache.Cache[string, *uniqueness.Response]
	started            atomic.Bool
	listener           *bus.Listener
	replyLoopDone      chan struct{}
}

// NewClient requires a bus and persistence. A nil verifier accepts responses without checking signatures.
func NewClient(bgCtx context.Context, conf *ucconf.ClientConfig, b bus.Bus, p persistence.Persistence, verifier ResponseVerifier, m metrics.ClientMetrics) Client {
	c := &client{
		checkerDestination: confutil.StringNotEmpty(conf.CheckerDestination, *ucconf.ClientDefaults.CheckerDestination),
		replyDestination:   confutil.StringNotEmpty(conf.ReplyDestination, *ucconf.ClientDefaults.ReplyDestination),
		requestTimeout:     confutil.DurationMin(conf.RequestTimeout, 0, *ucconf.ClientDefaults.RequestTimeout),
		sendRetry:          retry.NewRetryLimited(&conf.SendRetry, &ucconf.ClientDefaults.SendRetry),
		bus:                b,
		p:                  p,
		verifier:           verifier,
		metrics:            m,
		inflight:           inflight.NewInflightManager[string, *checkOutcome](func(s string) (string, error) { return s, nil }),
		completed:          cache.NewCache[string, *uniqueness.Response](&conf.ResultCache, &ucconf.ClientDefaults.ResultCache),
		replyLoopDone:      make(chan struct{}),
	}
	c.bgCtx, c.cancelCtx = context.WithCancel(bgCtx)
	return c
}

func (c *client) Start(ctx context.Context) (err error) {
	c.listener, err = c.bus.Listen(ctx, c.replyDestination)
	if err != nil {
		return err
	}
	go c.replyLoop()
	c.started.Store(true)

	pending, err := c.pendingContinuations(ctx)
	if err != nil {
		return err
	}
	for _, req := range pending {
		rCtx := log.WithLogField(ctx, "txId", req.TxID)
		log.L(rCtx).Infof("Resuming pending uniqueness check")
		if err := c.sendRequest(rCtx, req); err != nil {
			log.L(rCtx).Errorf("Failed to resend pending check, it will be resent on the next call or restart: %s", err)
		}
	}
	log.L(ctx).Infof("Uniqueness client started replyTo=%s pending=%d", c.replyDestination, len(pending))
	return nil
}

func (c *client) Stop() {
	c.cancelCtx()
	if c.started.Load() {
		if err := c.bus.Unlisten(c.bgCtx, c.replyDestination); err != nil {
			log.L(c.bgCtx).Warnf("Failed to stop listening on %s: %s", c.replyDestination, err)
		}
		<-c.replyLoopDone
	}
}

func (c *client) RequestUniquenessCheck(ctx context.Context, txID string, inputStates, referenceStates []string, numOutputStates int, lower *time.Time, upper time.Time) (uniqueness.Result, error) {
	inputs, err := uniqueness.ParseStateRefs(ctx, inputStates)
	if err == nil {
		var refs []uniqueness.StateRef
		refs, err = uniqueness.ParseStateRefs(ctx, referenceStates)
		if err == nil {
			return c.RequestUniquenessCheckStates(ctx, txID, inputs, refs, numOutputStates, lower, upper)
		}
	}
	log.L(ctx).Warnf("Malformed uniqueness check for transaction %s: %s", txID, err)
	c.metrics.IncRequest(OutcomeMalformed)
	return &uniqueness.MalformedRequest{ErrorText: err.Error()}, nil
}

func (c *client) RequestUniquenessCheckStates(ctx context.Context, txID string, inputStates, referenceStates []uniqueness.StateRef, numOutputStates int, lower *time.Time, upper time.Time) (uniqueness.Result, error) {
	ctx = log.WithLogField(ctx, "txId", txID)
	req := &uniqueness.Request{
		TxID:                 txID,
		InputStates:          inputStates,
		ReferenceStates:      referenceStates,
		NumOutputStates:      numOutputStates,
		TimeWindowLowerBound: lower,
		TimeWindowUpperBound: upper,
		RequestedAt:          time.Now(),
	}
	if err := req.Validate(ctx); err != nil {
		log.L(ctx).Warnf("Malformed uniqueness check: %s", err)
		c.metrics.IncRequest(OutcomeMalformed)
		return &uniqueness.MalformedRequest{ErrorText: err.Error()}, nil
	}
	if !c.started.Load() {
		return nil, c.transportError(txID, i18n.NewError(ctx, msgs.MsgClientNotStarted))
	}

	resp, found, err := c.completed.GetOrLoad(txID, func(txID string) (*uniqueness.Response, bool, error) {
		return c.getCompleted(ctx, txID)
	})
	if err != nil {
		return nil, c.transportError(txID, err)
	}
	if found {
		log.L(ctx).Debugf("Returning stored %s result", resp.Result.Kind())
		return c.resultFor(ctx, req, resp, OutcomeReplay), nil
	}

	ifr, isNew := c.inflight.JoinInflight(txID)
	defer ifr.Cancel()
	if isNew {
		c.dispatch(ctx, ifr, req)
	}

	waitCtx, cancelWait := context.WithTimeout(ctx, c.requestTimeout)
	defer cancelWait()
	outcome, err := ifr.Wait(waitCtx)
	if err != nil {
		// The check carries on regardless, and a later call picks up the result
		return nil, c.transportError(txID, i18n.WrapError(ctx, err, msgs.MsgClientTimeout, c.requestTimeout, txID))
	}
	if outcome.err != nil {
		c.metrics.IncRequest(OutcomeTransportError)
		return nil, outcome.err
	}
	return c.resultFor(ctx, req, outcome.resp, OutcomeResult), nil
}

// resultFor is the result in resp when it answers req. A response to different
// content under the same txId makes req a malformed reuse of the txId.
func (c *client) resultFor(ctx context.Context, req *uniqueness.Request, resp *uniqueness.Response, outcome string) uniqueness.Result {
	if !req.MatchesHash(resp.RequestHash) {
		err := i18n.NewError(ctx, msgs.MsgRequestTxIDReused, req.TxID)
		log.L(ctx).Warnf("Malformed uniqueness check: %s", err)
		c.metrics.IncRequest(OutcomeMalformed)
		return &uniqueness.MalformedRequest{ErrorText: err.Error()}
	}
	c.metrics.IncRequest(outcome)
	return resp.Result
}

func (c *client) transportError(txID string, err error) error {
	c.metrics.IncRequest(OutcomeTransportError)
	return uniqueness.NewTransportError(txID, err)
}

// dispatch is called by whichever caller first registers the in-flight check.
// The request sent is the one recorded for the txId, so every caller waits on the
// answer to that request.
func (c *client) dispatch(ctx context.Context, ifr *inflight.InflightRequest[string, *checkOutcome], req *uniqueness.Request) {
	recorded, err := c.recordContinuation(ctx, req)
	if err == nil {
		// the continuation might have been completed since the cache was checked
		resp, found, lookupErr := c.getCompleted(ctx, req.TxID)
		if lookupErr == nil && found {
			ifr.Complete(&checkOutcome{resp: resp})
			return
		}
		err = lookupErr
	}
	if err == nil {
		err = c.sendRequest(ctx, recorded)
	}
	if err != nil {
		ifr.Complete(&checkOutcome{err: uniqueness.NewTransportError(req.TxID, err)})
	}
}

func (c *client) sendRequest(ctx context.Context, req *uniqueness.Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	err = c.sendRetry.Do(ctx, func(attempt int) (retryable bool, err error) {
		return true, c.bus.SendMessage(ctx, bus.Message{
			Destination:   c.checkerDestination,
			Type:          bus.MessageTypeCheckRequest,
			ReplyTo:       &c.replyDestination,
			CorrelationID: &req.TxID,
			Body:          body,
		})
	})
	if err != nil {
		return i18n.WrapError(ctx, err, msgs.MsgClientSendFailed, req.TxID)
	}
	return nil
}

func (c *client) replyLoop() {
	defer close(c.replyLoopDone)
	ctx := log.WithLogField(c.bgCtx, "job", "client_replies")
	for {
		select {
		case d := <-c.listener.Deliveries():
			c.handleReply(ctx, d)
		case <-c.listener.Done():
			log.L(ctx).Debugf("Reply listener closed")
			return
		case <-ctx.Done():
			log.L(ctx).Debugf("Reply loop ending")
			return
		}
	}
}

func (c *client) handleReply(ctx context.Context, d *bus.Delivery) {
	var resp uniqueness.Response
	var err error
	if d.Type != bus.MessageTypeCheckResponse {
		err = i18n.NewError(ctx, msgs.MsgClientInvalidResponse, d.ID)
	} else if jsonErr := json.Unmarshal(d.Body, &resp); jsonErr != nil {
		err = i18n.WrapError(ctx, jsonErr, msgs.MsgClientInvalidResponse, d.ID)
	}
	if err != nil {
		log.L(ctx).Errorf("Discarding %s message: %s", d.Type, err)
		d.Ack()
		return
	}
	ctx = log.WithLogField(ctx, "txId", resp.TxID)

	if c.verifier != nil {
		if err := c.verifier.Verify(ctx, &resp); err != nil {
			log.L(ctx).Errorf("Discarding response: %s", err)
			c.completeInflight(resp.TxID, &checkOutcome{
				err: uniqueness.NewTransportError(resp.TxID, i18n.WrapError(ctx, err, msgs.MsgClientVerifyFailed, resp.TxID)),
			})
			d.Ack()
			return
		}
	}

	stored, err := c.completeContinuation(ctx, &resp)
	if err != nil {
		log.L(ctx).Errorf("Failed to store response: %s", err)
		d.Nack()
		return
	}
	final := &resp
	if !stored {
		// duplicate, late, or not ours. The first stored response stands.
		existing, found, err := c.getCompleted(ctx, resp.TxID)
		if err != nil {
			log.L(ctx).Errorf("Failed to read stored response: %s", err)
			d.Nack()
			return
		}
		if !found {
			log.L(ctx).Warnf("Discarding response for unknown check")
			d.Ack()
			return
		}
		final = existing
	}
	log.L(ctx).Debugf("Received %s result (stored=%t)", final.Result.Kind(), stored)
	c.completed.Set(resp.TxID, final)
	c.completeInflight(resp.TxID, &checkOutcome{resp: final})
	d.Ack()
}

func (c *client) completeInflight(txID string, outcome *checkOutcome) {
	if ifr := c.inflight.GetInflight(txID); ifr != nil {
		ifr.Complete(outcome)
	}
}
