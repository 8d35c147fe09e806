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
	"fmt"
	"strings"
	"time"

	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/internal/componentmgr"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/internal/msgs"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/confutil"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/uniqueness"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/spf13/cobra"
)

type CheckOptions struct {
	*RootOptions
	TxID            string
	InputStates     []string
	ReferenceStates []string
	NumOutputStates int
	NotBefore       string
	NotAfter        string
}

// NewCheckCommand submits a single check through the configured client, and prints the result
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Request a uniqueness check for one transaction",
		Long: `Request a uniqueness check for one transaction, and print the JSON result.

Times are RFC3339, or a Go duration relative to now. Repeating a check for
the same transaction needs the same request, so use RFC3339 times when a
check might be retried.

Example:
  uniqueness check -c uniqueness.yaml --tx tx1 --input issue1:0 --outputs 2 --not-after 5m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.TxID, "tx", "", "transaction id (required)")
	cmd.Flags().StringArrayVar(&opts.InputStates, "input", nil, "input state txId:index (repeatable)")
	cmd.Flags().StringArrayVar(&opts.ReferenceStates, "ref", nil, "reference state txId:index (repeatable)")
	cmd.Flags().IntVar(&opts.NumOutputStates, "outputs", 0, "number of output states")
	cmd.Flags().StringVar(&opts.NotBefore, "not-before", "", "time window lower bound (inclusive)")
	cmd.Flags().StringVar(&opts.NotAfter, "not-after", "5m", "time window upper bound (exclusive)")
	_ = cmd.MarkFlagRequired("tx")

	return cmd
}

func parseTime(ctx context.Context, s string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(strings.TrimPrefix(s, "+"))
	if err != nil {
		return time.Time{}, i18n.NewError(ctx, msgs.MsgCLIInvalidTime, s)
	}
	return now.Add(d), nil
}

func runCheck(cmd *cobra.Command, opts *CheckOptions) error {
	ctx := commandContext(cmd)
	now := time.Now()
	var lower *time.Time
	if opts.NotBefore != "" {
		t, err := parseTime(ctx, opts.NotBefore, now)
		if err != nil {
			return err
		}
		lower = &t
	}
	upper, err := parseTime(ctx, opts.NotAfter, now)
	if err != nil {
		return err
	}

	conf, err := opts.loadConfig(ctx)
	if err != nil {
		return err
	}
	conf.Client.Enabled = confutil.P(true)
	// a one-shot check has nothing to serve metrics for
	conf.Metrics.Enabled = confutil.P(false)

	cm := componentmgr.NewComponentManager(ctx, conf)
	defer cm.Stop()
	if err := cm.Init(); err != nil {
		return err
	}
	if err := cm.Start(); err != nil {
		return err
	}

	result, err := cm.Client().RequestUniquenessCheck(ctx, opts.TxID, opts.InputStates, opts.ReferenceStates, opts.NumOutputStates, lower, upper)
	if err != nil {
		return err
	}
	b, err := uniqueness.MarshalResult(result)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}
