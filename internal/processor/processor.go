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

// Package processor is the checker service: a pool of workers consuming check
// requests from the bus, and replying with signed responses.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/internal/checker"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/internal/metrics"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/internal/msgs"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/bus"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/confutil"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/log"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/signing"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/ucconf"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/uniqueness"
	"github.com/hyperledger/firefly-common/pkg/i18n"
)

type Processor interface {
	Start() error
	Stop()
}

type processor struct {
	bgCtx       context.Context
	cancelCtx   context.CancelFunc
	destination string
	concurrency int
	bus         bus.Bus
	checker     checker.Checker
	signer      signing.Signer
	metrics     metrics.BusMetrics
	listener    *bus.Listener
	workersDone sync.WaitGroup
}

func NewProcessor(bgCtx context.Context, conf *ucconf.ServiceConfig, b bus.Bus, c checker.Checker, s signing.Signer, m metrics.BusMetrics) Processor {
	p := &processor{
		destination: confutil.StringNotEmpty(conf.Destination, *ucconf.ServiceDefaults.Destination),
		concurrency: confutil.IntMin(conf.Concurrency, 1, *ucconf.ServiceDefaults.Concurrency),
		bus:         b,
		checker:     c,
		signer:      s,
		metrics:     m,
	}
	p.bgCtx, p.cancelCtx = context.WithCancel(bgCtx)
	return p
}

func (p *processor) Start() (err error) {
	p.listener, err = p.bus.Listen(p.bgCtx, p.destination)
	if err != nil {
		return err
	}
	log.L(p.bgCtx).Infof("Uniqueness checker listening on %s with %d workers (keyId=%s)", p.destination, p.concurrency, p.signer.KeyID())
	for i := 0; i < p.concurrency; i++ {
		p.workersDone.Add(1)
		go p.worker(i)
	}
	return nil
}

func (p *processor) Stop() {
	p.cancelCtx()
	if p.listener != nil {
		if err := p.bus.Unlisten(p.bgCtx, p.destination); err != nil {
			log.L(p.bgCtx).Warnf("Failed to stop listening on %s: %s", p.destination, err)
		}
	}
	p.workersDone.Wait()
}

func (p *processor) worker(i int) {
	defer p.workersDone.Done()
	ctx := log.WithLogField(p.bgCtx, "job", fmt.Sprintf("checker_%.4d", i))
	for {
		select {
		case d := <-p.listener.Deliveries():
			p.handle(ctx, d)
		case <-p.listener.Done():
			log.L(ctx).Debugf("Listener closed")
			return
		case <-ctx.Done():
			log.L(ctx).Debugf("Worker ending")
			return
		}
	}
}

func (p *processor) handle(ctx context.Context, d *bus.Delivery) {
	ctx = log.WithLogField(ctx, "msg", d.ID)
	req, err := p.decodeRequest(ctx, d)
	if err != nil {
		log.L(ctx).Errorf("Rejecting message: %s", err)
		if d.CorrelationID == nil {
			d.Ack() // nobody to tell
			return
		}
		p.respond(ctx, d, *d.CorrelationID, "", &uniqueness.MalformedRequest{ErrorText: err.Error()})
		return
	}

	result, err := p.checker.Check(ctx, req)
	if err != nil {
		log.L(ctx).Errorf("Check failed, returning request for redelivery: %s", err)
		p.nack(d)
		return
	}
	p.respond(ctx, d, req.TxID, req.Hash(), result)
}

func (p *processor) decodeRequest(ctx context.Context, d *bus.Delivery) (*uniqueness.Request, error) {
	if d.Type != bus.MessageTypeCheckRequest {
		return nil, i18n.NewError(ctx, msgs.MsgProcessorInvalidRequest, d.ID)
	}
	var req uniqueness.Request
	if err := json.Unmarshal(d.Body, &req); err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgProcessorInvalidRequest, d.ID)
	}
	return &req, nil
}

func (p *processor) respond(ctx context.Context, d *bus.Delivery, txID, requestHash string, result uniqueness.Result) {
	if d.ReplyTo == nil {
		log.L(ctx).Warnf("No reply destination for %s result of transaction %s", result.Kind(), txID)
		d.Ack()
		return
	}
	resp, err := p.signer.Wrap(ctx, txID, requestHash, result)
	if err == nil {
		var body []byte
		body, err = json.Marshal(resp)
		if err == nil {
			err = p.bus.SendMessage(ctx, bus.Message{
				Destination:   *d.ReplyTo,
				Type:          bus.MessageTypeCheckResponse,
				CorrelationID: &txID,
				Body:          body,
			})
		}
	}
	if err != nil {
		// the decision is recorded, so the redelivery replays it
		log.L(ctx).Errorf("Failed to reply to %s: %s", *d.ReplyTo, err)
		p.nack(d)
		return
	}
	d.Ack()
}

func (p *processor) nack(d *bus.Delivery) {
	p.metrics.IncRedelivery()
	d.Nack()
}
