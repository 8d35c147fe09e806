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

package msgs

import (
	"fmt"
	"strings"
	"sync"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"golang.org/x/text/language"
)

const uniquenessPrefix = "UQ01"

var registered sync.Once
var ffe = func(key, translation string, statusHint ...int) i18n.ErrorMessageKey {
	registered.Do(func() {
		i18n.RegisterPrefix(uniquenessPrefix, "Paladin Uniqueness Checker")
	})
	if !strings.HasPrefix(key, uniquenessPrefix) {
		panic(fmt.Errorf("must have prefix '%s': %s", uniquenessPrefix, key))
	}
	return i18n.FFE(language.AmericanEnglish, key, translation, statusHint...)
}

var (
	// Generic UQ0100XX
	MsgConfigFileMissing        = ffe("UQ010000", "Config file not found at %s")
	MsgConfigFileReadError      = ffe("UQ010001", "Failed to read config file %s with error: %s")
	MsgConfigFileParseError     = ffe("UQ010002", "Failed to parse config file: %s")
	MsgContextCanceled          = ffe("UQ010003", "Context canceled")
	MsgInflightRequestCancelled = ffe("UQ010004", "Request cancelled after %s")

	// Persistence UQ0101XX
	MsgPersistenceInvalidType          = ffe("UQ010100", "Invalid database type: %s")
	MsgPersistenceMissingDSN           = ffe("UQ010101", "Database connection string (dsn) must be specified")
	MsgPersistenceInitFailed           = ffe("UQ010102", "Database init failed")
	MsgPersistenceMigrationFailed      = ffe("UQ010103", "Database migration failed")
	MsgPersistenceMissingMigrationDir  = ffe("UQ010104", "Database migrations directory (migrationsDir) must be specified")
	MsgPersistenceInvalidDSNTemplate   = ffe("UQ010105", "Database connection string (dsn) is not a valid template")
	MsgPersistenceDSNParamLoadFile     = ffe("UQ010106", "Failed to load parameter '%s' of the connection string (dsn) from file '%s'")
	MsgPersistenceErrorInDBTransaction = ffe("UQ010107", "Panic occurred within database transaction: %v")

	// Flush writer UQ0102XX
	MsgFlushWriterQuiescing      = ffe("UQ010200", "Writer shutting down")
	MsgFlushWriterInvalidResults = ffe("UQ010201", "Batch handler returned an invalid number of results")
	MsgFlushWriterOpInvalid      = ffe("UQ010202", "Write operation has no write key")

	// Request and result model UQ0103XX
	MsgStateRefInvalid           = ffe("UQ010300", "Invalid state reference '%s' (expected <txId>:<outputIndex>)")
	MsgRequestMissingTxID        = ffe("UQ010301", "Transaction id must be specified")
	MsgRequestNegativeOutputs    = ffe("UQ010302", "Number of output states must not be negative: %d")
	MsgRequestDuplicateInput     = ffe("UQ010303", "Duplicate input state %s")
	MsgRequestDuplicateReference = ffe("UQ010304", "Duplicate reference state %s")
	MsgRequestInputIsReference   = ffe("UQ010305", "State %s cannot be both an input and a reference")
	MsgRequestMissingUpperBound  = ffe("UQ010306", "Time window upper bound must be specified")
	MsgRequestInvalidTimeWindow  = ffe("UQ010307", "Time window lower bound %s must be before upper bound %s")
	MsgResultUnknownKind         = ffe("UQ010308", "Unknown uniqueness check result kind '%s'")
	MsgResultInvalid             = ffe("UQ010309", "Invalid uniqueness check result")
	MsgResponseInvalid           = ffe("UQ010310", "Invalid uniqueness check response")
	MsgRequestTxIDReused         = ffe("UQ010311", "Transaction %s was already checked with a different request")

	// Commit log UQ0104XX
	MsgCommitLogStoredResultInvalid = ffe("UQ010400", "Stored result for transaction %s could not be parsed")
	MsgCommitLogNoDecision          = ffe("UQ010401", "No decision was made for transaction %s")
	MsgCommitLogRecordConflict      = ffe("UQ010402", "A different request for transaction %s was recorded concurrently")

	// Checker UQ0105XX
	MsgCheckerInvalidReferencePolicy = ffe("UQ010500", "Invalid reference state policy '%s'")
	MsgCheckerUnavailable            = ffe("UQ010501", "Uniqueness check for transaction %s could not be completed")

	// Signing UQ0106XX
	MsgSigningKeyLoadFailed          = ffe("UQ010600", "Failed to load signing key from '%s'")
	MsgSigningPasswordLoadFailed     = ffe("UQ010601", "Failed to load signing key password from '%s'")
	MsgSigningInvalidKey             = ffe("UQ010602", "Invalid signing key material (expected %d bytes)")
	MsgSigningPayloadFailed          = ffe("UQ010603", "Failed to build the signable payload for transaction %s")
	MsgSigningFailed                 = ffe("UQ010604", "Failed to sign result for transaction %s")
	MsgSignatureMissing              = ffe("UQ010605", "Success result for transaction %s carries no signature")
	MsgSignatureUnexpected           = ffe("UQ010606", "Result '%s' for transaction %s must not carry a signature")
	MsgSignatureDigestMismatch       = ffe("UQ010607", "Signature digest does not match the response for transaction %s")
	MsgSignatureInvalid              = ffe("UQ010608", "Signature for transaction %s does not verify against key %s")
	MsgSignatureUntrustedKey         = ffe("UQ010609", "Signature key %s is not a trusted checker key")
	MsgSignatureUnsupportedAlgorithm = ffe("UQ010610", "Unsupported signature algorithm '%s' or payload type '%s'")
	MsgCanonicalUnsupportedValue     = ffe("UQ010611", "Unsupported value in canonical payload: %T")
	MsgSigningKeyFileExists          = ffe("UQ010612", "Key file %s already exists")
	MsgSigningKeyWriteFailed         = ffe("UQ010613", "Failed to write key file %s")
	MsgSigningInvalidKeyType         = ffe("UQ010614", "Invalid signing key type '%s'")

	// Bus UQ0107XX
	MsgBusDestinationNotFound = ffe("UQ010700", "Destination not found: %s")
	MsgBusHandlerTimeout      = ffe("UQ010701", "Timed out delivering message to destination %s")
	MsgBusInvalidType         = ffe("UQ010702", "Invalid bus type '%s'")
	MsgBusKafkaMissingBrokers = ffe("UQ010703", "At least one Kafka broker must be configured")
	MsgBusKafkaSendFailed     = ffe("UQ010704", "Failed to publish message %s to topic %s")
	MsgBusClosed              = ffe("UQ010705", "Bus is closed")
	MsgBusAlreadyListening    = ffe("UQ010706", "Already listening on destination %s")
	MsgBusMissingDestination  = ffe("UQ010707", "Message %s has no destination")

	// Client UQ0108XX
	MsgClientSendFailed          = ffe("UQ010800", "Failed to send uniqueness check request for transaction %s")
	MsgClientTimeout             = ffe("UQ010801", "Timed out after %s waiting for the uniqueness check response for transaction %s")
	MsgClientInvalidResponse     = ffe("UQ010802", "Invalid uniqueness check response message %s")
	MsgClientNotStarted          = ffe("UQ010803", "Uniqueness client is not started")
	MsgClientVerifyFailed        = ffe("UQ010804", "Response for transaction %s failed signature verification")
	MsgClientContinuationInvalid = ffe("UQ010805", "Stored continuation for transaction %s could not be parsed")

	// Checker service UQ0109XX
	MsgProcessorInvalidRequest = ffe("UQ010900", "Invalid uniqueness check request message %s")

	// Components UQ0110XX
	MsgComponentDBInitError            = ffe("UQ011000", "Error initializing database")
	MsgComponentBusInitError           = ffe("UQ011001", "Error initializing message bus")
	MsgComponentSignerInitError        = ffe("UQ011002", "Error initializing signer")
	MsgComponentCheckerInitError       = ffe("UQ011003", "Error initializing uniqueness checker")
	MsgComponentProcessorStartError    = ffe("UQ011004", "Error starting uniqueness checker service")
	MsgComponentClientStartError       = ffe("UQ011005", "Error starting uniqueness client")
	MsgComponentMetricsServerInitError = ffe("UQ011006", "Error initializing metrics server")
	MsgComponentNotInitialized         = ffe("UQ011007", "Component manager has not been initialized")
	MsgMetricsServerMissingPort        = ffe("UQ011008", "Port must be specified for the %s server")
	MsgMetricsServerStartFailed        = ffe("UQ011009", "Failed to start server on %s")
	MsgCLIMissingConfig                = ffe("UQ011010", "A configuration file must be supplied with --config")
	MsgCLIInvalidTime                  = ffe("UQ011011", "Invalid time '%s' (expected RFC3339 or a duration relative to now)")
)
