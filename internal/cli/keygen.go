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

package cli

import (
	"fmt"

	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/signing"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/ucconf"
	"github.com/spf13/cobra"
)

// NewKeygenCommand writes a new keystore v3 signing key for a checker, and prints the key ID clients should trust
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	conf := &ucconf.SignerConfig{}

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a checker signing key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keyID, err := signing.GenerateKeystoreV3(commandContext(cmd), conf)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), keyID)
			return err
		},
	}

	cmd.Flags().StringVar(&conf.KeyFile, "key-file", "", "keystore file to create (required)")
	cmd.Flags().StringVar(&conf.PasswordFile, "password-file", "", "password file to create (required)")
	_ = cmd.MarkFlagRequired("key-file")
	_ = cmd.MarkFlagRequired("password-file")

	return cmd
}
