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
	"errors"
	"fmt"
)

// TransportError means the outcome of a check is not known, because the request
// or its reply could not be delivered. It is never a business rejection, and
// the same request can be safely retried.
type TransportError struct {
	TxID  string
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("uniqueness check transport failure for transaction %s: %s", e.TxID, e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

func NewTransportError(txID string, cause error) *TransportError {
	return &TransportError{TxID: txID, Cause: cause}
}

func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
