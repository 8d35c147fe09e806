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
	"crypto/rand"
	"os"
	"strings"

	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/internal/msgs"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/confutil"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/ucconf"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	"github.com/hyperledger/firefly-signer/pkg/keystorev3"
	"github.com/hyperledger/firefly-signer/pkg/secp256k1"
)

const privateKeyLen = 32

func loadKeystoreV3(ctx context.Context, keyFile, passwordFile string) (*secp256k1.KeyPair, error) {
	keyData, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgSigningKeyLoadFailed, keyFile)
	}
	passData, err := os.ReadFile(passwordFile)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgSigningPasswordLoadFailed, passwordFile)
	}
	wf, err := keystorev3.ReadWalletFile(keyData, []byte(strings.TrimSpace(string(passData))))
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgSigningKeyLoadFailed, keyFile)
	}
	return keyPairFromBytes(ctx, wf.PrivateKey())
}

func loadHexKey(ctx context.Context, keyFile string) (*secp256k1.KeyPair, error) {
	keyData, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgSigningKeyLoadFailed, keyFile)
	}
	keyBytes, err := ethtypes.NewHexBytes0xPrefix(strings.TrimSpace(string(keyData)))
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgSigningKeyLoadFailed, keyFile)
	}
	return keyPairFromBytes(ctx, keyBytes)
}

func keyPairFromBytes(ctx context.Context, b []byte) (*secp256k1.KeyPair, error) {
	if len(b) != privateKeyLen {
		return nil, i18n.NewError(ctx, msgs.MsgSigningInvalidKey, privateKeyLen)
	}
	return secp256k1.KeyPairFromBytes(b), nil
}

// GenerateKeystoreV3 creates a new key, and writes it as a keystore v3 wallet file
// protected by a random password stored alongside it. Existing files are never overwritten.
func GenerateKeystoreV3(ctx context.Context, conf *ucconf.SignerConfig) (keyID string, err error) {
	if _, err := os.Stat(conf.KeyFile); err == nil {
		return "", i18n.NewError(ctx, msgs.MsgSigningKeyFileExists, conf.KeyFile)
	}
	fileMode := confutil.UnixFileMode(conf.FileMode, *ucconf.SignerDefaults.FileMode)

	kp, err := secp256k1.GenerateSecp256k1KeyPair()
	if err != nil {
		return "", i18n.WrapError(ctx, err, msgs.MsgSigningKeyWriteFailed, conf.KeyFile)
	}
	passwordBytes := make([]byte, 32)
	if _, err := rand.Read(passwordBytes); err != nil {
		return "", i18n.WrapError(ctx, err, msgs.MsgSigningKeyWriteFailed, conf.KeyFile)
	}
	password := ethtypes.HexBytesPlain(passwordBytes).String()

	wf := keystorev3.NewWalletFileCustomBytesStandard(password, kp.PrivateKeyBytes())
	// the key ID is derived on load, so the file does not need the address
	wf.Metadata()["address"] = nil

	err = os.WriteFile(conf.PasswordFile, []byte(password), fileMode)
	if err == nil {
		err = os.WriteFile(conf.KeyFile, wf.JSON(), fileMode)
	}
	if err != nil {
		return "", i18n.WrapError(ctx, err, msgs.MsgSigningKeyWriteFailed, conf.KeyFile)
	}
	return KeyIDForAddress(kp.Address), nil
}
