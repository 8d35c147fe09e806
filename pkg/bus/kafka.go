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

package bus

import (
	"context"
	"sync"

	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/internal/msgs"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/confutil"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/ids"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/log"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/retry"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/ucconf"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/segmentio/kafka-go"
)

const (
	headerID            = "uq-id"
	headerType          = "uq-type"
	headerReplyTo       = "uq-reply-to"
	headerCorrelationID = "uq-correlation-id"
)

type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaBus struct {
	bgCtx       context.Context
	cancelCtx   context.CancelFunc
	topicPrefix string
	bufferSize  int
	fetchRetry  *retry.Retry
	writer      kafkaWriter
	newReader   func(topic string) kafkaReader

	listenersLock sync.Mutex
	listeners     map[string]*kafkaListener
}

type kafkaListener struct {
	*Listener
	reader   kafkaReader
	loopDone chan struct{}
	offsets  *partitionOffsets
}

// partitionOffsets holds the fetched messages of each partition that are not yet
// committed. Deliveries finish in any order, but a commit on a partition covers
// every earlier offset, so a partition is only committed up to the end of its
// leading run of finished messages.
type partitionOffsets struct {
	lock       sync.Mutex
	partitions map[int][]*trackedOffset
}

type trackedOffset struct {
	km       kafka.Message
	finished bool
}

func newPartitionOffsets() *partitionOffsets {
	return &partitionOffsets{partitions: make(map[int][]*trackedOffset)}
}

func (po *partitionOffsets) track(km kafka.Message) *trackedOffset {
	po.lock.Lock()
	defer po.lock.Unlock()
	to := &trackedOffset{km: km}
	po.partitions[km.Partition] = append(po.partitions[km.Partition], to)
	return to
}

// finish marks the message done, and calls commit with the highest message that
// can now be committed on its partition. The lock is held across the commit so
// commits on a partition never go backwards.
func (po *partitionOffsets) finish(to *trackedOffset, commit func(km kafka.Message) error) {
	po.lock.Lock()
	defer po.lock.Unlock()
	to.finished = true
	pending := po.partitions[to.km.Partition]
	done := 0
	for done < len(pending) && pending[done].finished {
		done++
	}
	if done == 0 {
		return
	}
	if err := commit(pending[done-1].km); err != nil {
		return // retried with the next finished message on this partition
	}
	po.partitions[to.km.Partition] = pending[done:]
}

// NewKafkaBus maps each destination to a topic. Listeners consume in a consumer
// group, so multiple checker replicas share the request topic.
func NewKafkaBus(ctx context.Context, conf *ucconf.KafkaBusConfig) (Bus, error) {
	if len(conf.Brokers) == 0 {
		return nil, i18n.NewError(ctx, msgs.MsgBusKafkaMissingBrokers)
	}
	defs := ucconf.KafkaBusDefaults
	groupID := confutil.StringNotEmpty(conf.GroupID, *defs.GroupID)
	minBytes := confutil.ByteSize(conf.MinBytes, 1, *defs.MinBytes)
	maxBytes := confutil.ByteSize(conf.MaxBytes, 1, *defs.MaxBytes)
	maxWait := confutil.DurationMin(conf.MaxWait, 0, *defs.MaxWait)

	b := newKafkaBus(ctx, conf, &kafka.Writer{
		Addr:                   kafka.TCP(conf.Brokers...),
		Balancer:               &kafka.Hash{}, // keyed by correlation ID, so one transaction stays on one partition
		BatchTimeout:           confutil.DurationMin(conf.BatchTimeout, 0, *defs.BatchTimeout),
		RequiredAcks:           kafka.RequiredAcks(confutil.Int(conf.RequiredAcks, *defs.RequiredAcks)),
		AllowAutoTopicCreation: true,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.L(ctx).Tracef("kafka writer: "+msg, args...)
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.L(ctx).Errorf("kafka writer: "+msg, args...)
		}),
	})
	b.newReader = func(topic string) kafkaReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:     conf.Brokers,
			GroupID:     groupID,
			Topic:       topic,
			MinBytes:    int(minBytes),
			MaxBytes:    int(maxBytes),
			MaxWait:     maxWait,
			StartOffset: kafka.FirstOffset,
			ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
				log.L(ctx).Errorf("kafka reader (%s): "+msg, append([]interface{}{topic}, args...)...)
			}),
		})
	}
	log.L(ctx).Infof("Kafka bus created brokers=%v groupId=%s", conf.Brokers, groupID)
	return b, nil
}

func newKafkaBus(ctx context.Context, conf *ucconf.KafkaBusConfig, writer kafkaWriter) *kafkaBus {
	b := &kafkaBus{
		topicPrefix: confutil.StringOrEmpty(conf.TopicPrefix, *ucconf.KafkaBusDefaults.TopicPrefix),
		bufferSize:  confutil.IntMin(conf.BufferSize, 0, *ucconf.KafkaBusDefaults.BufferSize),
		fetchRetry:  retry.NewRetryIndefinite(&ucconf.RetryConfig{}),
		writer:      writer,
		listeners:   make(map[string]*kafkaListener),
	}
	b.bgCtx, b.cancelCtx = context.WithCancel(ctx)
	return b
}

func (b *kafkaBus) topic(destination string) string {
	return b.topicPrefix + destination
}

func toKafkaMessage(topic string, message Message) kafka.Message {
	km := kafka.Message{
		Topic: topic,
		Value: message.Body,
		Headers: []kafka.Header{
			{Key: headerID, Value: []byte(message.ID)},
			{Key: headerType, Value: []byte(message.Type)},
		},
	}
	if message.ReplyTo != nil {
		km.Headers = append(km.Headers, kafka.Header{Key: headerReplyTo, Value: []byte(*message.ReplyTo)})
	}
	if message.CorrelationID != nil {
		km.Key = []byte(*message.CorrelationID)
		km.Headers = append(km.Headers, kafka.Header{Key: headerCorrelationID, Value: []byte(*message.CorrelationID)})
	} else {
		km.Key = []byte(message.ID)
	}
	return km
}

func fromKafkaMessage(destination string, km kafka.Message) Message {
	msg := Message{
		Destination: destination,
		Body:        km.Value,
	}
	for _, h := range km.Headers {
		v := string(h.Value)
		switch h.Key {
		case headerID:
			msg.ID = v
		case headerType:
			msg.Type = v
		case headerReplyTo:
			msg.ReplyTo = &v
		case headerCorrelationID:
			msg.CorrelationID = &v
		}
	}
	return msg
}

func (b *kafkaBus) SendMessage(ctx context.Context, message Message) error {
	if message.Destination == "" {
		return i18n.NewError(ctx, msgs.MsgBusMissingDestination, message.ID)
	}
	if b.bgCtx.Err() != nil {
		return i18n.NewError(ctx, msgs.MsgBusClosed)
	}
	if message.ID == "" {
		message.ID = ids.MessageID()
	}
	topic := b.topic(message.Destination)
	log.L(ctx).Debugf("Sending %s message %s to topic %s", message.Type, message.ID, topic)
	if err := b.writer.WriteMessages(ctx, toKafkaMessage(topic, message)); err != nil {
		return i18n.WrapError(ctx, err, msgs.MsgBusKafkaSendFailed, message.ID, topic)
	}
	return nil
}

func (b *kafkaBus) Listen(ctx context.Context, destination string) (*Listener, error) {
	b.listenersLock.Lock()
	defer b.listenersLock.Unlock()
	if b.bgCtx.Err() != nil {
		return nil, i18n.NewError(ctx, msgs.MsgBusClosed)
	}
	if _, exists := b.listeners[destination]; exists {
		return nil, i18n.NewError(ctx, msgs.MsgBusAlreadyListening, destination)
	}
	loopCtx, cancelLoop := context.WithCancel(log.WithLogField(b.bgCtx, "topic", b.topic(destination)))
	kl := &kafkaListener{
		Listener: newListener(destination, b.bufferSize, cancelLoop),
		reader:   b.newReader(b.topic(destination)),
		loopDone: make(chan struct{}),
		offsets:  newPartitionOffsets(),
	}
	b.listeners[destination] = kl
	go b.consumeLoop(loopCtx, kl)
	return kl.Listener, nil
}

func (b *kafkaBus) consumeLoop(ctx context.Context, kl *kafkaListener) {
	defer close(kl.loopDone)
	l := log.L(ctx)
	failures := 0
	for {
		km, err := kl.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.Debugf("Consumer loop ending")
				return
			}
			failures++
			l.Errorf("Fetch failed (failures=%d): %s", failures, err)
			if b.fetchRetry.WaitDelay(ctx, failures) != nil {
				return
			}
			continue
		}
		failures = 0
		msg := fromKafkaMessage(kl.destination, km)
		to := kl.offsets.track(km)
		d := newDelivery(msg,
			func() { b.commit(ctx, kl, to) },
			func() { b.requeue(ctx, kl, to) },
		)
		select {
		case kl.deliveries <- d:
		case <-ctx.Done():
			return
		}
	}
}

func (b *kafkaBus) commit(ctx context.Context, kl *kafkaListener, to *trackedOffset) {
	kl.offsets.finish(to, func(km kafka.Message) error {
		err := kl.reader.CommitMessages(b.bgCtx, km)
		if err != nil {
			log.L(ctx).Errorf("Failed to commit offset %d on partition %d: %s", km.Offset, km.Partition, err)
		}
		return err
	})
}

// Later commits on a partition implicitly commit earlier offsets, so leaving a
// nacked message uncommitted is not enough. It is written back to the end of the
// topic before its offset is committed.
func (b *kafkaBus) requeue(ctx context.Context, kl *kafkaListener, to *trackedOffset) {
	km := to.km
	requeued := kafka.Message{
		Topic:   km.Topic,
		Key:     km.Key,
		Value:   km.Value,
		Headers: km.Headers,
	}
	if err := b.writer.WriteMessages(b.bgCtx, requeued); err != nil {
		// this holds back every later commit on the partition, so it is redelivered on restart
		log.L(ctx).Errorf("Failed to requeue offset %d on partition %d, leaving uncommitted: %s", km.Offset, km.Partition, err)
		return
	}
	b.commit(ctx, kl, to)
}

func (b *kafkaBus) stopListener(kl *kafkaListener) {
	kl.stop()
	<-kl.loopDone
	if err := kl.reader.Close(); err != nil {
		log.L(b.bgCtx).Warnf("Error closing reader for %s: %s", kl.destination, err)
	}
}

func (b *kafkaBus) Unlisten(ctx context.Context, destination string) error {
	b.listenersLock.Lock()
	kl, ok := b.listeners[destination]
	delete(b.listeners, destination)
	b.listenersLock.Unlock()
	if !ok {
		return i18n.NewError(ctx, msgs.MsgBusDestinationNotFound, destination)
	}
	b.stopListener(kl)
	return nil
}

func (b *kafkaBus) Close() {
	b.listenersLock.Lock()
	listeners := b.listeners
	b.listeners = make(map[string]*kafkaListener)
	b.listenersLock.Unlock()
	for _, kl := range listeners {
		b.stopListener(kl)
	}
	b.cancelCtx()
	if err := b.writer.Close(); err != nil {
		log.L(b.bgCtx).Warnf("Error closing kafka writer: %s", err)
	}
}
