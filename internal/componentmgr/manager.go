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

package componentmgr

import (
	"context"

	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/internal/checker"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/internal/commitlog"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/internal/metrics"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/internal/metricsserver"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/internal/msgs"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/internal/processor"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/bus"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/client"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/confutil"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/log"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/persistence"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/signing"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/ucconf"
	"github.com/hyperledger/firefly-common/pkg/i18n"
)

type ComponentManager interface {
	Init() error
	Start() error
	Stop()

	Persistence() persistence.Persistence
	Bus() bus.Bus
	// Checker is nil unless the checker service is enabled
	Checker() checker.Checker
	// Client is nil unless the client is enabled
	Client() client.Client
	MetricsServer() metricsserver.MetricsServer
}

type componentManager struct {
	bgCtx context.Context
	conf  *ucconf.UniquenessConfig

	persistence    persistence.Persistence
	bus            bus.Bus
	metricsManager metrics.Metrics
	signer         signing.Signer
	commitLog      commitlog.CommitLog
	checker        checker.Checker
	processor      processor.Processor
	client         client.Client
	metricsServer  metricsserver.MetricsServer

	initialized bool
	// stopped and closed in reverse order
	started []namedStoppable
	opened  []namedCloseable
}

// things that have a running component that is active in the background and hence "stops"
type stoppable interface {
	Stop()
}

// things that hold connections, and hence "close"
type closeable interface {
	Close()
}

type namedStoppable struct {
	name string
	c    stoppable
}

type namedCloseable struct {
	name string
	c    closeable
}

func NewComponentManager(bgCtx context.Context, conf *ucconf.UniquenessConfig) ComponentManager {
	log.InitConfig(&conf.Log)
	return &componentManager{
		bgCtx: bgCtx,
		conf:  conf,
	}
}

func (cm *componentManager) serviceEnabled() bool {
	return confutil.Bool(cm.conf.Service.Enabled, *ucconf.ServiceDefaults.Enabled)
}

func (cm *componentManager) clientEnabled() bool {
	return confutil.Bool(cm.conf.Client.Enabled, *ucconf.ClientDefaults.Enabled)
}

func (cm *componentManager) Init() (err error) {
	cm.persistence, err = persistence.NewPersistence(cm.bgCtx, &cm.conf.DB)
	err = cm.addIfOpened("database", cm.persistence, err, msgs.MsgComponentDBInitError)

	if err == nil {
		cm.bus, err = bus.NewBus(cm.bgCtx, &cm.conf.Bus)
		err = cm.addIfOpened("bus", cm.bus, err, msgs.MsgComponentBusInitError)
	}

	if err == nil {
		cm.metricsManager = metrics.NewMetricsManager(cm.bgCtx)
	}

	if err == nil && cm.serviceEnabled() {
		err = cm.initService()
	}

	if err == nil && cm.clientEnabled() {
		err = cm.initClient()
	}

	if err == nil {
		cm.metricsServer, err = metricsserver.NewMetricsServer(cm.bgCtx, cm.metricsManager.Registry(), cm.healthCheck, &cm.conf.Metrics)
		err = cm.wrapIfErr(err, msgs.MsgComponentMetricsServerInitError)
	}

	cm.initialized = err == nil
	return err
}

func (cm *componentManager) initService() (err error) {
	cm.signer, err = signing.NewSigner(cm.bgCtx, &cm.conf.Signer)
	if err != nil {
		return cm.wrapIfErr(err, msgs.MsgComponentSignerInitError)
	}
	log.L(cm.bgCtx).Infof("Uniqueness results will be signed with key %s", cm.signer.KeyID())

	cm.commitLog = commitlog.NewCommitLog(cm.bgCtx, cm.persistence, &cm.conf.Checker.Writer)
	registry := cm.metricsManager.Registry()
	cm.checker, err = checker.NewChecker(cm.bgCtx, &cm.conf.Checker, cm.commitLog, metrics.InitCheckerMetrics(cm.bgCtx, registry), nil)
	if err != nil {
		return cm.wrapIfErr(err, msgs.MsgComponentCheckerInitError)
	}
	cm.processor = processor.NewProcessor(cm.bgCtx, &cm.conf.Service, cm.bus, cm.checker, cm.signer, metrics.InitBusMetrics(cm.bgCtx, registry))
	return nil
}

func (cm *componentManager) initClient() error {
	var verifier client.ResponseVerifier
	if len(cm.conf.Client.TrustedKeys) > 0 {
		v, err := signing.NewVerifier(cm.bgCtx, cm.conf.Client.TrustedKeys)
		if err != nil {
			return cm.wrapIfErr(err, msgs.MsgComponentSignerInitError)
		}
		verifier = v
	} else {
		log.L(cm.bgCtx).Warnf("No trusted keys configured. Uniqueness check signatures will not be verified")
	}
	cm.client = client.NewClient(cm.bgCtx, &cm.conf.Client, cm.bus, cm.persistence,
		verifier, metrics.InitClientMetrics(cm.bgCtx, cm.metricsManager.Registry()))
	return nil
}

func (cm *componentManager) Start() (err error) {
	if !cm.initialized {
		return i18n.NewError(cm.bgCtx, msgs.MsgComponentNotInitialized)
	}

	if cm.processor != nil {
		cm.commitLog.Start()
		cm.started = append(cm.started, namedStoppable{"commit_log", cm.commitLog})
		err = cm.processor.Start()
		err = cm.addIfStarted("checker_service", cm.processor, err, msgs.MsgComponentProcessorStartError)
	}

	// the client resends pending checks on start, so it comes after the service
	if err == nil && cm.client != nil {
		err = cm.client.Start(cm.bgCtx)
		err = cm.addIfStarted("client", cm.client, err, msgs.MsgComponentClientStartError)
	}

	if err == nil {
		err = cm.metricsServer.Start()
		err = cm.addIfStarted("metrics_server", cm.metricsServer, err, msgs.MsgComponentMetricsServerInitError)
	}

	if err == nil {
		log.L(cm.bgCtx).Infof("Startup complete service=%t client=%t", cm.processor != nil, cm.client != nil)
	}
	return err
}

func (cm *componentManager) healthCheck(ctx context.Context) error {
	return cm.persistence.DB().WithContext(ctx).Exec("SELECT 1").Error
}

func (cm *componentManager) wrapIfErr(err error, failMsg i18n.ErrorMessageKey, inserts ...any) error {
	if err != nil {
		return i18n.WrapError(cm.bgCtx, err, failMsg, inserts...)
	}
	return nil
}

func (cm *componentManager) addIfStarted(desc string, c stoppable, err error, failMsg i18n.ErrorMessageKey, inserts ...any) error {
	if err != nil {
		return i18n.WrapError(cm.bgCtx, err, failMsg, inserts...)
	}
	cm.started = append(cm.started, namedStoppable{desc, c})
	return nil
}

func (cm *componentManager) addIfOpened(desc string, c closeable, err error, failMsg i18n.ErrorMessageKey) error {
	if err != nil {
		return i18n.WrapError(cm.bgCtx, err, failMsg)
	}
	cm.opened = append(cm.opened, namedCloseable{desc, c})
	return nil
}

func (cm *componentManager) Stop() {
	log.L(cm.bgCtx).Info("Stopping")
	for i := len(cm.started) - 1; i >= 0; i-- {
		s := cm.started[i]
		log.L(cm.bgCtx).Infof("Stopping %s", s.name)
		s.c.Stop()
		log.L(cm.bgCtx).Debugf("Stopped %s", s.name)
	}
	cm.started = nil
	for i := len(cm.opened) - 1; i >= 0; i-- {
		o := cm.opened[i]
		log.L(cm.bgCtx).Infof("Closing %s", o.name)
		o.c.Close()
		log.L(cm.bgCtx).Debugf("Closed %s", o.name)
	}
	cm.opened = nil
	log.L(cm.bgCtx).Debug("Stopped")
}

func (cm *componentManager) Persistence() persistence.Persistence {
	return cm.persistence
}

func (cm *componentManager) Bus() bus.Bus {
	return cm.bus
}

func (cm *componentManager) Checker() checker.Checker {
	return cm.checker
}

func (cm *componentManager) Client() client.Client {
	return cm.client
}

func (cm *componentManager) MetricsServer() metricsserver.MetricsServer {
	return cm.metricsServer
}
