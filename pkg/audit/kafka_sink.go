/*
Copyright 2024.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package audit

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
	"go.uber.org/zap"
)

// KafkaSinkConfig configures a KafkaSink.
type KafkaSinkConfig struct {
	Name    string
	Brokers []string
	Topic   string

	TLS  *KafkaTLSConfig
	SASL *KafkaSASLConfig

	// BatchTimeout defaults to 1s, WriteTimeout to 10s.
	BatchTimeout time.Duration
	WriteTimeout time.Duration

	// CompressionCodec is one of none, gzip, snappy, lz4 or zstd. Default: snappy
	CompressionCodec string
}

// KafkaTLSConfig enables TLS towards the brokers. CACert is PEM encoded; the
// system pool is used when it is empty.
type KafkaTLSConfig struct {
	Enabled            bool
	CACert             []byte
	InsecureSkipVerify bool
}

// KafkaSASLConfig selects PLAIN, SCRAM-SHA-256 or SCRAM-SHA-512.
type KafkaSASLConfig struct {
	Mechanism string
	Username  string
	Password  string
}

var kafkaCodecs = map[string]kafka.Compression{
	"":       kafka.Snappy,
	"snappy": kafka.Snappy,
	"none":   0,
	"gzip":   kafka.Gzip,
	"lz4":    kafka.Lz4,
	"zstd":   kafka.Zstd,
}

// messageWriter is the part of *kafka.Writer the sink needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes delivery events to a topic. Records are keyed by the
// email id, so the history of one email stays ordered on one partition.
type KafkaSink struct {
	name   string
	writer messageWriter
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewKafkaSink builds the writer. Brokers are contacted on the first write.
func NewKafkaSink(cfg KafkaSinkConfig, logger *zap.Logger) (*KafkaSink, error) {
	switch {
	case len(cfg.Brokers) == 0:
		return nil, errors.New("kafka audit sink needs at least one broker")
	case cfg.Topic == "":
		return nil, errors.New("kafka audit sink needs a topic")
	}

	codec, ok := kafkaCodecs[strings.ToLower(cfg.CompressionCodec)]
	if !ok {
		return nil, fmt.Errorf("unknown kafka compression codec %q", cfg.CompressionCodec)
	}

	transport := &kafka.Transport{}
	if cfg.TLS != nil && cfg.TLS.Enabled {
		tlsCfg, err := kafkaTLS(cfg.TLS)
		if err != nil {
			return nil, err
		}
		transport.TLS = tlsCfg
	}
	if cfg.SASL != nil && cfg.SASL.Mechanism != "" {
		mech, err := kafkaSASL(cfg.SASL)
		if err != nil {
			return nil, err
		}
		transport.SASL = mech
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: durationOr(cfg.BatchTimeout, time.Second),
		WriteTimeout: durationOr(cfg.WriteTimeout, 10*time.Second),
		RequiredAcks: kafka.RequireAll,
		Compression:  codec,
		Transport:    transport,
	}

	name := cfg.Name
	if name == "" {
		name = "kafka"
	}
	logger.Info("Kafka delivery event sink configured",
		zap.String("name", name),
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
		zap.Bool("tls", transport.TLS != nil),
		zap.Bool("sasl", transport.SASL != nil))

	return newKafkaSinkWithWriter(name, writer, logger), nil
}

func newKafkaSinkWithWriter(name string, writer messageWriter, logger *zap.Logger) *KafkaSink {
	return &KafkaSink{
		name:   name,
		writer: writer,
		logger: logger.Named("kafka-audit"),
	}
}

// Write publishes one event.
func (s *KafkaSink) Write(ctx context.Context, event *Event) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errors.New("kafka audit sink closed")
	}

	record, err := deliveryRecord(event)
	if err != nil {
		return err
	}
	if err := s.writer.WriteMessages(ctx, record); err != nil {
		kind := classifyKafkaError(err)
		fields := []zap.Field{
			zap.Error(err),
			zap.String("kind", kind),
			zap.String("event", string(event.Type)),
			zap.String("messageId", event.MessageID),
		}
		if kind == "network" || kind == "timeout" {
			s.logger.Warn("Kafka unreachable, delivery event dropped", fields...)
		} else {
			s.logger.Error("Kafka rejected delivery event", fields...)
		}
		return fmt.Errorf("publish delivery event (%s): %w", kind, err)
	}
	return nil
}

// deliveryRecord encodes event as a Kafka record keyed by the email id, or by
// the event id for events that concern no single email.
func deliveryRecord(event *Event) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode delivery event %s: %w", event.ID, err)
	}
	key := event.MessageID
	if key == "" {
		key = event.ID
	}
	headers := []kafka.Header{
		{Key: "event-type", Value: []byte(event.Type)},
		{Key: "timestamp", Value: []byte(event.Timestamp.UTC().Format(time.RFC3339))},
	}
	if event.Transport != "" {
		headers = append(headers, kafka.Header{Key: "transport", Value: []byte(event.Transport)})
	}
	return kafka.Message{Key: []byte(key), Value: value, Headers: headers}, nil
}

// Close flushes pending batches. Closing twice is a no-op.
func (s *KafkaSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info("Closing Kafka delivery event sink", zap.String("name", s.name))
	if err := s.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}

func (s *KafkaSink) Name() string {
	return s.name
}

// kafkaErrorRules are checked in order; the first match names the kind.
var kafkaErrorRules = []struct {
	kind  string
	match func(err error, text string) bool
}{
	{"timeout", func(err error, _ string) bool {
		var netErr net.Error
		return errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout())
	}},
	{"cancelled", func(err error, _ string) bool { return errors.Is(err, context.Canceled) }},
	{"network", func(err error, text string) bool {
		var netErr net.Error
		return errors.As(err, &netErr) ||
			strings.Contains(text, "connection refused") || strings.Contains(text, "no such host")
	}},
	{"auth", func(_ error, text string) bool {
		return strings.Contains(text, "SASL") || strings.Contains(text, "authentication")
	}},
	{"tls", func(_ error, text string) bool {
		return strings.Contains(text, "TLS") || strings.Contains(text, "certificate")
	}},
}

// classifyKafkaError names the failure kind for logs and error messages.
func classifyKafkaError(err error) string {
	text := err.Error()
	for _, r := range kafkaErrorRules {
		if r.match(err, text) {
			return r.kind
		}
	}
	return "other"
}

func kafkaTLS(cfg *KafkaTLSConfig) (*tls.Config, error) {
	out := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: cfg.InsecureSkipVerify}
	if len(cfg.CACert) == 0 {
		return out, nil
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(cfg.CACert) {
		return nil, errors.New("kafka CA certificate is not valid PEM")
	}
	out.RootCAs = pool
	return out, nil
}

var scramAlgorithms = map[string]scram.Algorithm{
	"SCRAM-SHA-256": scram.SHA256,
	"SCRAM-SHA-512": scram.SHA512,
}

func kafkaSASL(cfg *KafkaSASLConfig) (sasl.Mechanism, error) {
	name := strings.ToUpper(cfg.Mechanism)
	if name == "PLAIN" {
		return plain.Mechanism{Username: cfg.Username, Password: cfg.Password}, nil
	}
	algo, ok := scramAlgorithms[name]
	if !ok {
		return nil, fmt.Errorf("unsupported kafka SASL mechanism %q", cfg.Mechanism)
	}
	mech, err := scram.Mechanism(algo, cfg.Username, cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("kafka %s credentials: %w", name, err)
	}
	return mech, nil
}

func durationOr(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
