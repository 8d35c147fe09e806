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

package uniqueness

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"time"

	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/internal/msgs"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
)

const requestHashDomain = "uniqueness/request/v1"

// Request is a uniqueness check for one ledger transaction. It is JSON encoded
// on the bus, and in the client's durable continuation.
type Request struct {
	TxID                 string     `json:"txId"`
	InputStates          []StateRef `json:"inputStates"`
	ReferenceStates      []StateRef `json:"referenceStates"`
	NumOutputStates      int        `json:"numOutputStates"`
	TimeWindowLowerBound *time.Time `json:"timeWindowLowerBound,omitempty"`
	TimeWindowUpperBound time.Time  `json:"timeWindowUpperBound"`
	Originator           string     `json:"originator,omitempty"`
	RequestedAt          time.Time  `json:"requestedAt"`
}

// NewRequest builds a validated request from the string forms of the state refs
func NewRequest(ctx context.Context, txID string, inputStates, referenceStates []string, numOutputStates int, lower *time.Time, upper time.Time) (*Request, error) {
	inputs, err := ParseStateRefs(ctx, inputStates)
	if err != nil {
		return nil, err
	}
	refs, err := ParseStateRefs(ctx, referenceStates)
	if err != nil {
		return nil, err
	}
	req := &Request{
		TxID:                 txID,
		InputStates:          inputs,
		ReferenceStates:      refs,
		NumOutputStates:      numOutputStates,
		TimeWindowLowerBound: lower,
		TimeWindowUpperBound: upper,
	}
	if err := req.Validate(ctx); err != nil {
		return nil, err
	}
	return req, nil
}

func (r *Request) Validate(ctx context.Context) error {
	if r.TxID == "" {
		return i18n.NewError(ctx, msgs.MsgRequestMissingTxID)
	}
	if r.NumOutputStates < 0 {
		return i18n.NewError(ctx, msgs.MsgRequestNegativeOutputs, r.NumOutputStates)
	}
	inputs := make(map[StateRef]bool, len(r.InputStates))
	for _, ref := range r.InputStates {
		if inputs[ref] {
			return i18n.NewError(ctx, msgs.MsgRequestDuplicateInput, ref)
		}
		inputs[ref] = true
	}
	refs := make(map[StateRef]bool, len(r.ReferenceStates))
	for _, ref := range r.ReferenceStates {
		if refs[ref] {
			return i18n.NewError(ctx, msgs.MsgRequestDuplicateReference, ref)
		}
		if inputs[ref] {
			return i18n.NewError(ctx, msgs.MsgRequestInputIsReference, ref)
		}
		refs[ref] = true
	}
	if r.TimeWindowUpperBound.IsZero() {
		return i18n.NewError(ctx, msgs.MsgRequestMissingUpperBound)
	}
	if r.TimeWindowLowerBound != nil && !r.TimeWindowLowerBound.Before(r.TimeWindowUpperBound) {
		return i18n.NewError(ctx, msgs.MsgRequestInvalidTimeWindow, r.TimeWindowLowerBound.Format(time.RFC3339Nano), r.TimeWindowUpperBound.Format(time.RFC3339Nano))
	}
	return nil
}

// InTimeWindow checks lower <= t < upper, with an absent lower bound being unbounded
func (r *Request) InTimeWindow(t time.Time) bool {
	if r.TimeWindowLowerBound != nil && t.Before(*r.TimeWindowLowerBound) {
		return false
	}
	return t.Before(r.TimeWindowUpperBound)
}

// OutputStates are the refs this transaction issues if it commits
func (r *Request) OutputStates() []StateRef {
	outputs := make([]StateRef, r.NumOutputStates)
	for i := range outputs {
		outputs[i] = StateRef{TxID: r.TxID, OutputIndex: i}
	}
	return outputs
}

// requestHashJSON is the part of a request that determines its decision. The
// originator and request time are not included, so a resend hashes the same.
type requestHashJSON struct {
	TxID                 string   `json:"txId"`
	InputStates          []string `json:"inputStates"`
	ReferenceStates      []string `json:"referenceStates"`
	NumOutputStates      int      `json:"numOutputStates"`
	TimeWindowLowerBound *string  `json:"timeWindowLowerBound"`
	TimeWindowUpperBound string   `json:"timeWindowUpperBound"`
}

// Hash identifies the request content. State order does not matter, and times
// are compared at nanosecond precision in UTC.
func (r *Request) Hash() string {
	hj := &requestHashJSON{
		TxID:                 r.TxID,
		InputStates:          StateRefStrings(SortStateRefs(r.InputStates)),
		ReferenceStates:      StateRefStrings(SortStateRefs(r.ReferenceStates)),
		NumOutputStates:      r.NumOutputStates,
		TimeWindowUpperBound: r.TimeWindowUpperBound.UTC().Format(time.RFC3339Nano),
	}
	if r.TimeWindowLowerBound != nil {
		lower := r.TimeWindowLowerBound.UTC().Format(time.RFC3339Nano)
		hj.TimeWindowLowerBound = &lower
	}
	b, _ := json.Marshal(hj) // strings and ints only
	h := sha256.New()
	h.Write([]byte(requestHashDomain))
	h.Write([]byte{0x00})
	h.Write(b)
	return ethtypes.HexBytes0xPrefix(h.Sum(nil)).String()
}

// MatchesHash is false when the txId of this request was already used by different content
func (r *Request) MatchesHash(hash string) bool {
	return hash == r.Hash()
}
