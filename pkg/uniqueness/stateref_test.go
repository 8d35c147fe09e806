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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStateRef(t *testing.T) {
	ctx := context.Background()

	ref, err := ParseStateRef(ctx, "tx1:0")
	require.NoError(t, err)
	assert.Equal(t, StateRef{TxID: "tx1", OutputIndex: 0}, ref)
	assert.Equal(t, "tx1:0", ref.String())

	// split on the last colon
	ref, err = ParseStateRef(ctx, "ns:tx:2:12")
	require.NoError(t, err)
	assert.Equal(t, "ns:tx:2", ref.TxID)
	assert.Equal(t, 12, ref.OutputIndex)

	for _, bad := range []string{"", "tx1", ":0", "tx1:", "tx1:-1", "tx1:+1", "tx1:abc", "tx1:99999999999999999999999"} {
		_, err := ParseStateRef(ctx, bad)
		assert.Regexp(t, "UQ010300", err, bad)
	}
}

func TestParseStateRefs(t *testing.T) {
	ctx := context.Background()
	refs, err := ParseStateRefs(ctx, []string{"a:0", "b:1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a:0", "b:1"}, StateRefStrings(refs))

	_, err = ParseStateRefs(ctx, []string{"a:0", "wrong"})
	assert.Regexp(t, "UQ010300.*wrong", err)
}

func TestStateRefJSON(t *testing.T) {
	b, err := json.Marshal([]StateRef{NewStateRef("tx1", 3)})
	require.NoError(t, err)
	assert.JSONEq(t, `["tx1:3"]`, string(b))

	var refs []StateRef
	require.NoError(t, json.Unmarshal(b, &refs))
	assert.Equal(t, NewStateRef("tx1", 3), refs[0])

	assert.Regexp(t, "UQ010300", json.Unmarshal([]byte(`["bad"]`), &refs))
	assert.Error(t, json.Unmarshal([]byte(`[42]`), &refs))
}

func TestSortStateRefs(t *testing.T) {
	unsorted := []StateRef{NewStateRef("b", 0), NewStateRef("a", 10), NewStateRef("a", 2)}
	sorted := SortStateRefs(unsorted)
	assert.Equal(t, []string{"a:2", "a:10", "b:0"}, StateRefStrings(sorted))
	assert.Equal(t, "b:0", unsorted[0].String())
}
