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
	"bytes"
	"context"

	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/internal/msgs"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/uniqueness"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	"github.com/hyperledger/firefly-signer/pkg/secp256k1"
)

// Verifier checks response signatures against a set of trusted checker keys
type Verifier struct {
	trusted map[ethtypes.Address0xHex]bool
}

func NewVerifier(ctx context.Context, trustedKeyIDs []string) (*Verifier, error) {
	v := &Verifier{trusted: make(map[ethtypes.Address0xHex]bool, len(trustedKeyIDs))}
	for _, keyID := range trustedKeyIDs {
		addr, err := ethtypes.NewAddress(keyID)
		if err != nil {
			return nil, i18n.WrapError(ctx, err, msgs.MsgSignatureUntrustedKey, keyID)
		}
		v.trusted[*addr] = true
	}
	return v, nil
}

// Verify requires a signature from a trusted key on every success, and no signature on any failure.
// A valid signature binds the result to resp.RequestHash, which the caller compares with its own request.
func Verify(ctx context.Context, resp *uniqueness.Response, trustedKeyIDs ...string) error {
	v, err := NewVerifier(ctx, trustedKeyIDs)
	if err != nil {
		return err
	}
	return v.Verify(ctx, resp)
}

func (v *Verifier) Verify(ctx context.Context, resp *uniqueness.Response) error {
	if resp.Result == nil {
		return i18n.NewError(ctx, msgs.MsgResponseInvalid)
	}
	if !resp.Result.IsSuccess() {
		if resp.Signature != nil {
			return i18n.NewError(ctx, msgs.MsgSignatureUnexpected, resp.Result.Kind(), resp.TxID)
		}
		return nil
	}

	sig := resp.Signature
	if sig == nil {
		return i18n.NewError(ctx, msgs.MsgSignatureMissing, resp.TxID)
	}
	if resp.RequestHash == "" {
		return i18n.NewError(ctx, msgs.MsgResponseInvalid)
	}
	if sig.Algorithm != AlgorithmECDSASecp256k1 || sig.PayloadType != PayloadTypeOpaqueRSV || sig.DigestAlgorithm != DigestAlgorithmSHA256 {
		return i18n.NewError(ctx, msgs.MsgSignatureUnsupportedAlgorithm, sig.Algorithm, sig.PayloadType)
	}

	payload, err := SignablePayload(ctx, resp.TxID, resp.RequestHash, resp.Result)
	if err != nil {
		return err
	}
	digest := Digest(payload)
	if !bytes.Equal(digest, sig.Digest) {
		return i18n.NewError(ctx, msgs.MsgSignatureDigestMismatch, resp.TxID)
	}

	claimed, err := ethtypes.NewAddress(sig.KeyID)
	if err != nil {
		return i18n.WrapError(ctx, err, msgs.MsgSignatureInvalid, resp.TxID, sig.KeyID)
	}
	rsv, err := secp256k1.DecodeCompactRSV(ctx, sig.Value)
	if err != nil {
		return i18n.WrapError(ctx, err, msgs.MsgSignatureInvalid, resp.TxID, sig.KeyID)
	}
	// opaque signatures carry a v of 0 or 1, so any chain ID recovers them
	recovered, err := rsv.RecoverDirect(digest, 0)
	if err != nil {
		return i18n.WrapError(ctx, err, msgs.MsgSignatureInvalid, resp.TxID, sig.KeyID)
	}
	if *recovered != *claimed {
		return i18n.NewError(ctx, msgs.MsgSignatureInvalid, resp.TxID, sig.KeyID)
	}
	if !v.trusted[*recovered] {
		return i18n.NewError(ctx, msgs.MsgSignatureUntrustedKey, sig.KeyID)
	}
	return nil
}
