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

	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/internal/msgs"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/confutil"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/log"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/ucconf"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/uniqueness"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	"github.com/hyperledger/firefly-signer/pkg/secp256k1"
)

// Signer attests uniqueness check results with the checker's key
type Signer interface {
	KeyID() string
	Sign(ctx context.Context, txID, requestHash string, result uniqueness.Result) (*uniqueness.Signature, error)
	// Wrap builds the response for a result, with a signature only when the result is a success
	Wrap(ctx context.Context, txID, requestHash string, result uniqueness.Result) (*uniqueness.Response, error)
}

type ecdsaSigner struct {
	kp    *secp256k1.KeyPair
	keyID string
}

func NewSigner(ctx context.Context, conf *ucconf.SignerConfig) (Signer, error) {
	keyType := confutil.StringNotEmpty(conf.KeyType, *ucconf.SignerDefaults.KeyType)
	var kp *secp256k1.KeyPair
	var err error
	switch keyType {
	case ucconf.SignerKeyTypeKeystoreV3:
		kp, err = loadKeystoreV3(ctx, conf.KeyFile, conf.PasswordFile)
	case ucconf.SignerKeyTypeHex:
		kp, err = loadHexKey(ctx, conf.KeyFile)
	case ucconf.SignerKeyTypeEphemeral:
		log.L(ctx).Warnf("Signing uniqueness results with an ephemeral key. Signatures will not verify after restart")
		kp, err = secp256k1.GenerateSecp256k1KeyPair()
	default:
		err = i18n.NewError(ctx, msgs.MsgSigningInvalidKeyType, keyType)
	}
	if err != nil {
		return nil, err
	}
	return NewKeyPairSigner(kp), nil
}

func NewKeyPairSigner(kp *secp256k1.KeyPair) Signer {
	return &ecdsaSigner{
		kp:    kp,
		keyID: KeyIDForAddress(kp.Address),
	}
}

// KeyIDForAddress is the checksummed form of the signing address
func KeyIDForAddress(addr ethtypes.Address0xHex) string {
	return ethtypes.AddressWithChecksum(addr).String()
}

func (s *ecdsaSigner) KeyID() string {
	return s.keyID
}

func (s *ecdsaSigner) Sign(ctx context.Context, txID, requestHash string, result uniqueness.Result) (*uniqueness.Signature, error) {
	payload, err := SignablePayload(ctx, txID, requestHash, result)
	if err != nil {
		return nil, err
	}
	digest := Digest(payload)
	sig, err := s.kp.SignDirect(digest)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgSigningFailed, txID)
	}
	return &uniqueness.Signature{
		Algorithm:       AlgorithmECDSASecp256k1,
		PayloadType:     PayloadTypeOpaqueRSV,
		DigestAlgorithm: DigestAlgorithmSHA256,
		Digest:          digest,
		KeyID:           s.keyID,
		Value:           sig.CompactRSV(),
	}, nil
}

func (s *ecdsaSigner) Wrap(ctx context.Context, txID, requestHash string, result uniqueness.Result) (*uniqueness.Response, error) {
	resp := &uniqueness.Response{
		TxID:        txID,
		RequestHash: requestHash,
		Result:      result,
	}
	if result.IsSuccess() {
		sig, err := s.Sign(ctx, txID, requestHash, result)
		if err != nil {
			return nil, err
		}
		resp.Signature = sig
	}
	return resp, nil
}
