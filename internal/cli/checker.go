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
	"os"
	"os/signal"
	"syscall"

	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/internal/componentmgr"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/log"
	"github.com/spf13/cobra"
)

// NewCheckerCommand runs the checker service until interrupted
func NewCheckerCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "checker",
		Short: "Run the uniqueness checker service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChecker(commandContext(cmd), rootOpts)
		},
	}
}

func runChecker(parentCtx context.Context, rootOpts *RootOptions) error {
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	conf, err := rootOpts.loadConfig(ctx)
	if err != nil {
		return err
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)
	go func() {
		select {
		case sig := <-signals:
			log.L(ctx).Infof("Stopping due to signal %s", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	cm := componentmgr.NewComponentManager(ctx, conf)
	defer cm.Stop()
	if err := cm.Init(); err != nil {
		return err
	}
	if err := cm.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}
