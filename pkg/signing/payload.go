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

package signing

import (
	"context"
	"crypto/sha256"
	"encoding/json"

	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/internal/msgs"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/uniqueness"
	"github.com/hyperledger/firefly-common/pkg/i18n"
)

const (
	AlgorithmECDSASecp256k1 = "ecdsa:secp256k1"
	PayloadTypeOpaqueRSV    = "opaque:rsv"
	DigestAlgorithmSHA256   = "sha-256"

	// digestDomain separates result digests from any other use of the same key
	digestDomain = "uniqueness/result/v1"
)

// SignablePayload is the canonical JSON of the transaction ID, the hash of the
// request that was decided, and the result wire form
func SignablePayload(ctx context.Context, txID, requestHash string, result uniqueness.Result) ([]byte, error) {
	resultJSON, err := uniqueness.MarshalResult(result)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgSigningPayloadFailed, txID)
	}
	payload, err := MarshalCanonical(ctx, map[string]any{
		"txId":        txID,
		"requestHash": requestHash,
		"result":      json.RawMessage(resultJSON),
	})
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgSigningPayloadFailed, txID)
	}
	return payload, nil
}

func Digest(payload []byte) []byte {
	h := sha256.New()
	h.Write([]byte(digestDomain))
	h.Write([]byte{0x00})
	h.Write(payload)
	return h.Sum(nil)
}
