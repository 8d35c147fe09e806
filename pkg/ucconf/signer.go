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

package ucconf

import "github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/confutil"

const (
	SignerKeyTypeKeystoreV3 = "keystorev3"
	SignerKeyTypeHex        = "hex"
	SignerKeyTypeEphemeral  = "ephemeral"
)

type SignerConfig struct {
	KeyType      *string `json:"keyType"`
	KeyFile      string  `json:"keyFile"`
	PasswordFile string  `json:"passwordFile"`
	FileMode     *string `json:"fileMode"`
}

var SignerDefaults = &SignerConfig{
	KeyType:  confutil.P(SignerKeyTypeKeystoreV3),
	FileMode: confutil.P("0600"),
}
