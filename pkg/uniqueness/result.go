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
	"encoding/json"
	"time"

	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/internal/msgs"
	"github.com/hyperledger/firefly-common/pkg/i18n"
)

type ResultKind string

const (
	ResultKindSuccess                ResultKind = "success"
	ResultKindInputStateConflict     ResultKind = "input_state_conflict"
	ResultKindInputStateUnknown      ResultKind = "input_state_unknown"
	ResultKindReferenceStateConflict ResultKind = "reference_state_conflict"
	ResultKindReferenceStateUnknown  ResultKind = "reference_state_unknown"
	ResultKindTimeWindowOutOfBounds  ResultKind = "time_window_out_of_bounds"
	ResultKindMalformedRequest       ResultKind = "malformed_request"
)

// Result is the outcome of a uniqueness check. The set of variants is closed,
// and ResultMatcher gives compile-time exhaustive handling of them.
type Result interface {
	Kind() ResultKind
	IsSuccess() bool
	isResult()
}

// StateConflict is an input or reference state already consumed by another transaction
type StateConflict struct {
	StateRef      StateRef `json:"stateRef"`
	ConsumingTxID string   `json:"consumingTxId"`
}

type Success struct {
	CommitTimestamp time.Time `json:"commitTimestamp"`
}

type InputStateConflict struct {
	Conflicts []StateConflict `json:"conflicts"`
}

type InputStateUnknown struct {
	UnknownStates []StateRef `json:"unknownStates"`
}

type ReferenceStateConflict struct {
	Conflicts []StateConflict `json:"conflicts"`
}

type ReferenceStateUnknown struct {
	UnknownStates []StateRef `json:"unknownStates"`
}

type TimeWindowOutOfBounds struct {
	EvaluationTimestamp time.Time  `json:"evaluationTimestamp"`
	LowerBound          *time.Time `json:"lowerBound,omitempty"`
	UpperBound          time.Time  `json:"upperBound"`
}

type MalformedRequest struct {
	ErrorText string `json:"errorText"`
}

func (*Success) Kind() ResultKind                { return ResultKindSuccess }
func (*InputStateConflict) Kind() ResultKind     { return ResultKindInputStateConflict }
func (*InputStateUnknown) Kind() ResultKind      { return ResultKindInputStateUnknown }
func (*ReferenceStateConflict) Kind() ResultKind { return ResultKindReferenceStateConflict }
func (*ReferenceStateUnknown) Kind() ResultKind  { return ResultKindReferenceStateUnknown }
func (*TimeWindowOutOfBounds) Kind() ResultKind  { return ResultKindTimeWindowOutOfBounds }
func (*MalformedRequest) Kind() ResultKind       { return ResultKindMalformedRequest }

func (*Success) IsSuccess() bool                { return true }
func (*InputStateConflict) IsSuccess() bool     { return false }
func (*InputStateUnknown) IsSuccess() bool      { return false }
func (*ReferenceStateConflict) IsSuccess() bool { return false }
func (*ReferenceStateUnknown) IsSuccess() bool  { return false }
func (*TimeWindowOutOfBounds) IsSuccess() bool  { return false }
func (*MalformedRequest) IsSuccess() bool       { return false }

func (*Success) isResult()                {}
func (*InputStateConflict) isResult()     {}
func (*InputStateUnknown) isResult()      {}
func (*ReferenceStateConflict) isResult() {}
func (*ReferenceStateUnknown) isResult()  {}
func (*TimeWindowOutOfBounds) isResult()  {}
func (*MalformedRequest) isResult()       {}

// ResultMatcher has one method per result variant. Adding a variant adds a
// method here, so every matcher in the codebase stops compiling until it
// handles the new case.
type ResultMatcher[T any] interface {
	Success(r *Success) T
	InputStateConflict(r *InputStateConflict) T
	InputStateUnknown(r *InputStateUnknown) T
	ReferenceStateConflict(r *ReferenceStateConflict) T
	ReferenceStateUnknown(r *ReferenceStateUnknown) T
	TimeWindowOutOfBounds(r *TimeWindowOutOfBounds) T
	MalformedRequest(r *MalformedRequest) T
}

func MatchResult[T any](r Result, m ResultMatcher[T]) T {
	switch r := r.(type) {
	case *Success:
		return m.Success(r)
	case *InputStateConflict:
		return m.InputStateConflict(r)
	case *InputStateUnknown:
		return m.InputStateUnknown(r)
	case *ReferenceStateConflict:
		return m.ReferenceStateConflict(r)
	case *ReferenceStateUnknown:
		return m.ReferenceStateUnknown(r)
	case *TimeWindowOutOfBounds:
		return m.TimeWindowOutOfBounds(r)
	case *MalformedRequest:
		return m.MalformedRequest(r)
	default:
		// unreachable, as the marker method keeps the set of variants closed
		panic("unknown result variant")
	}
}

type resultJSON struct {
	Kind   ResultKind      `json:"kind"`
	Detail json.RawMessage `json:"detail"`
}

func MarshalResult(r Result) ([]byte, error) {
	detail, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&resultJSON{Kind: r.Kind(), Detail: detail})
}

func UnmarshalResult(ctx context.Context, b []byte) (Result, error) {
	var rj resultJSON
	if err := json.Unmarshal(b, &rj); err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgResultInvalid)
	}
	r, err := newResultForKind(ctx, rj.Kind)
	if err != nil {
		return nil, err
	}
	if len(rj.Detail) > 0 {
		if err := json.Unmarshal(rj.Detail, r); err != nil {
			return nil, i18n.WrapError(ctx, err, msgs.MsgResultInvalid)
		}
	}
	return r, nil
}

func newResultForKind(ctx context.Context, kind ResultKind) (Result, error) {
	switch kind {
	case ResultKindSuccess:
		return &Success{}, nil
	case ResultKindInputStateConflict:
		return &InputStateConflict{}, nil
	case ResultKindInputStateUnknown:
		return &InputStateUnknown{}, nil
	case ResultKindReferenceStateConflict:
		return &ReferenceStateConflict{}, nil
	case ResultKindReferenceStateUnknown:
		return &ReferenceStateUnknown{}, nil
	case ResultKindTimeWindowOutOfBounds:
		return &TimeWindowOutOfBounds{}, nil
	case ResultKindMalformedRequest:
		return &MalformedRequest{}, nil
	default:
		return nil, i18n.NewError(ctx, msgs.MsgResultUnknownKind, kind)
	}
}
