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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequestOK(t *testing.T) {
	ctx := context.Background()
	upper := time.Now().Add(time.Minute)
	req, err := NewRequest(ctx, "tx1", []string{"a:0", "a:1"}, []string{"b:0"}, 2, nil, upper)
	require.NoError(t, err)
	assert.Equal(t, "tx1", req.TxID)
	assert.Len(t, req.InputStates, 2)
	assert.Equal(t, []string{"tx1:0", "tx1:1"}, StateRefStrings(req.OutputStates()))
}

func TestNewRequestBadRefs(t *testing.T) {
	ctx := context.Background()
	upper := time.Now().Add(time.Minute)
	_, err := NewRequest(ctx, "tx1", []string{"bad"}, nil, 0, nil, upper)
	assert.Regexp(t, "UQ010300", err)
	_, err = NewRequest(ctx, "tx1", nil, []string{"bad"}, 0, nil, upper)
	assert.Regexp(t, "UQ010300", err)
}

func TestRequestValidate(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	upper := now.Add(time.Minute)
	a0 := NewStateRef("a", 0)
	b0 := NewStateRef("b", 0)

	for name, tc := range map[string]struct {
		req   *Request
		errRx string
	}{
		"missing txId":        {&Request{TimeWindowUpperBound: upper}, "UQ010301"},
		"negative outputs":    {&Request{TxID: "t", NumOutputStates: -1, TimeWindowUpperBound: upper}, "UQ010302"},
		"duplicate input":     {&Request{TxID: "t", InputStates: []StateRef{a0, a0}, TimeWindowUpperBound: upper}, "UQ010303.*a:0"},
		"duplicate reference": {&Request{TxID: "t", ReferenceStates: []StateRef{b0, b0}, TimeWindowUpperBound: upper}, "UQ010304.*b:0"},
		"input is reference":  {&Request{TxID: "t", InputStates: []StateRef{a0}, ReferenceStates: []StateRef{a0}, TimeWindowUpperBound: upper}, "UQ010305"},
		"missing upper":       {&Request{TxID: "t"}, "UQ010306"},
		"lower equals upper":  {&Request{TxID: "t", TimeWindowLowerBound: &upper, TimeWindowUpperBound: upper}, "UQ010307"},
	} {
		err := tc.req.Validate(ctx)
		assert.Regexp(t, tc.errRx, err, name)
	}

	ok := &Request{TxID: "t", InputStates: []StateRef{a0}, ReferenceStates: []StateRef{b0}, TimeWindowLowerBound: &now, TimeWindowUpperBound: upper}
	require.NoError(t, ok.Validate(ctx))
}

func TestInTimeWindow(t *testing.T) {
	lower := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	upper := lower.Add(time.Hour)

	req := &Request{TxID: "t", TimeWindowLowerBound: &lower, TimeWindowUpperBound: upper}
	assert.True(t, req.InTimeWindow(lower)) // inclusive
	assert.True(t, req.InTimeWindow(upper.Add(-time.Nanosecond)))
	assert.False(t, req.InTimeWindow(upper)) // exclusive
	assert.False(t, req.InTimeWindow(lower.Add(-time.Nanosecond)))

	unbounded := &Request{TxID: "t", TimeWindowUpperBound: upper}
	assert.True(t, unbounded.InTimeWindow(time.Time{}.Add(time.Hour)))
}

func TestRequestHash(t *testing.T) {
	ctx := context.Background()
	upper := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	lower := upper.Add(-time.Hour)
	req, err := NewRequest(ctx, "tx1", []string{"a:0", "a:1"}, []string{"b:0"}, 2, &lower, upper)
	require.NoError(t, err)
	hash := req.Hash()
	assert.Regexp(t, "^0x[0-9a-f]{64}$", hash)

	// state order, originator, request time and time zone do not change the hash
	same, err := NewRequest(ctx, "tx1", []string{"a:1", "a:0"}, []string{"b:0"}, 2, &lower, upper.In(time.FixedZone("x", 3600)))
	require.NoError(t, err)
	same.Originator = "node2"
	same.RequestedAt = time.Now()
	assert.True(t, same.MatchesHash(hash))

	for name, change := range map[string]func(r *Request){
		"txId":       func(r *Request) { r.TxID = "tx2" },
		"inputs":     func(r *Request) { r.InputStates = r.InputStates[:1] },
		"references": func(r *Request) { r.ReferenceStates = nil },
		"outputs":    func(r *Request) { r.NumOutputStates = 3 },
		"lower":      func(r *Request) { r.TimeWindowLowerBound = nil },
		"upper":      func(r *Request) { r.TimeWindowUpperBound = upper.Add(time.Nanosecond) },
		"swapped":    func(r *Request) { r.InputStates, r.ReferenceStates = r.ReferenceStates, r.InputStates },
	} {
		changed := *req
		change(&changed)
		assert.False(t, changed.MatchesHash(hash), name)
	}
}
