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
	"sort"
	"strconv"
	"strings"

	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/internal/msgs"
	"github.com/hyperledger/firefly-common/pkg/i18n"
)

// StateRef identifies one output state of a ledger transaction
type StateRef struct {
	TxID        string
	OutputIndex int
}

func NewStateRef(txID string, outputIndex int) StateRef {
	return StateRef{TxID: txID, OutputIndex: outputIndex}
}

// ParseStateRef parses the "<txId>:<outputIndex>" form, splitting on the last colon
// so transaction IDs that themselves contain colons are supported.
func ParseStateRef(ctx context.Context, s string) (StateRef, error) {
	sep := strings.LastIndexByte(s, ':')
	if sep <= 0 || sep == len(s)-1 {
		return StateRef{}, i18n.NewError(ctx, msgs.MsgStateRefInvalid, s)
	}
	idxStr := s[sep+1:]
	for _, c := range idxStr {
		if c < '0' || c > '9' {
			return StateRef{}, i18n.NewError(ctx, msgs.MsgStateRefInvalid, s)
		}
	}
	idx, err := strconv.Atoi(idxStr)
	if err != nil {
		return StateRef{}, i18n.WrapError(ctx, err, msgs.MsgStateRefInvalid, s)
	}
	return StateRef{TxID: s[:sep], OutputIndex: idx}, nil
}

func ParseStateRefs(ctx context.Context, strs []string) ([]StateRef, error) {
	refs := make([]StateRef, len(strs))
	for i, s := range strs {
		ref, err := ParseStateRef(ctx, s)
		if err != nil {
			return nil, err
		}
		refs[i] = ref
	}
	return refs, nil
}

func (r StateRef) String() string {
	return r.TxID + ":" + strconv.Itoa(r.OutputIndex)
}

func (r StateRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *StateRef) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseStateRef(context.Background(), s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func StateRefStrings(refs []StateRef) []string {
	strs := make([]string, len(refs))
	for i, r := range refs {
		strs[i] = r.String()
	}
	return strs
}

// SortStateRefs returns a copy ordered by txId then output index
func SortStateRefs(refs []StateRef) []StateRef {
	sorted := make([]StateRef, len(refs))
	copy(sorted, refs)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].TxID != sorted[j].TxID {
			return sorted[i].TxID < sorted[j].TxID
		}
		return sorted[i].OutputIndex < sorted[j].OutputIndex
	})
	return sorted
}
