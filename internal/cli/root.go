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
	"context"

	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/internal/msgs"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/ucconf"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/spf13/cobra"
)

// RootOptions holds the flags shared by every command
type RootOptions struct {
	ConfigFile string
	LogLevel   string
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "uniqueness",
		Short: "Uniqueness checker",
		Long: `Notary uniqueness checker for UTXO ledgers.

Accepts uniqueness check requests over a message bus, and commits the consumed
input states of each transaction atomically, so no state is ever spent twice.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override the configured log level (error|warn|info|debug|trace)")

	cmd.AddCommand(NewCheckerCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewKeygenCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))

	return cmd
}

func (opts *RootOptions) loadConfig(ctx context.Context) (*ucconf.UniquenessConfig, error) {
	if opts.ConfigFile == "" {
		return nil, i18n.NewError(ctx, msgs.MsgCLIMissingConfig)
	}
	var conf ucconf.UniquenessConfig
	if err := ucconf.ReadAndParseYAMLFile(ctx, opts.ConfigFile, &conf); err != nil {
		return nil, err
	}
	if opts.LogLevel != "" {
		conf.Log.Level = &opts.LogLevel
	}
	return &conf, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
