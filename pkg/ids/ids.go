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

package ids

import (
	"encoding/base32"
	"strings"

	"github.com/google/uuid"
)

var shortEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// ShortID is a compact random identifier for log correlation only.
// It is not unique enough to be used as a key.
func ShortID() string {
	u := uuid.New()
	return strings.ToLower(shortEncoding.EncodeToString(u[0:5]))
}

// MessageID returns a new globally unique message identifier
func MessageID() string {
	return uuid.NewString()
}
