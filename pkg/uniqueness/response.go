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

	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/internal/msgs"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
)

// Signature is the checker's attestation over the canonical (txId, requestHash, result) payload
type Signature struct {
	Algorithm       string                    `json:"algorithm"`
	PayloadType     string                    `json:"payloadType"`
	DigestAlgorithm string                    `json:"digestAlgorithm"`
	Digest          ethtypes.HexBytes0xPrefix `json:"digest"`
	KeyID           string                    `json:"keyId"`
	Value           ethtypes.HexBytes0xPrefix `json:"value"`
}

// Response is the reply to a uniqueness check. Only a Success result carries a signature.
// RequestHash is the Hash of the request that was decided, and is empty only when
// the request could not be decoded.
type Response struct {
	TxID        string
	RequestHash string
	Result      Result
	Signature   *Signature
}

type responseJSON struct {
	TxID        string          `json:"txId"`
	RequestHash string          `json:"requestHash,omitempty"`
	Result      json.RawMessage `json:"result"`
	Signature   *Signature      `json:"signature,omitempty"`
}

func (r *Response) MarshalJSON() ([]byte, error) {
	if r.Result == nil {
		return nil, i18n.NewError(context.Background(), msgs.MsgResponseInvalid)
	}
	result, err := MarshalResult(r.Result)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&responseJSON{
		TxID:        r.TxID,
		RequestHash: r.RequestHash,
		Result:      result,
		Signature:   r.Signature,
	})
}

func (r *Response) UnmarshalJSON(b []byte) error {
	ctx := context.Background()
	var rj responseJSON
	if err := json.Unmarshal(b, &rj); err != nil {
		return i18n.WrapError(ctx, err, msgs.MsgResponseInvalid)
	}
	if rj.TxID == "" || len(rj.Result) == 0 {
		return i18n.NewError(ctx, msgs.MsgResponseInvalid)
	}
	result, err := UnmarshalResult(ctx, rj.Result)
	if err != nil {
		return err
	}
	r.TxID = rj.TxID
	r.RequestHash = rj.RequestHash
	r.Result = result
	r.Signature = rj.Signature
	return nil
}
