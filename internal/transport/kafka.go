package transport

import (
	"context"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// kafkaRecordOverhead is reserved out of MaxMessageBytes for record framing.
const kafkaRecordOverhead = 256

// KafkaConfig configures a Kafka writer.
type KafkaConfig struct {
	Brokers         []string
	MaxMessageBytes int64
	Compression     string // none, gzip, snappy, lz4, zstd
	RequiredAcks    string // none, one, all
	MaxAttempts     int
}

// Kafka publishes each chunk as one message on a topic named after the subject.
// Writes are synchronous so every chunk's outcome is known.
type Kafka struct {
	writer   *kafka.Writer
	maxBytes int64
}

// NewKafka returns a Kafka transport. No connection is made until the first publish.
func NewKafka(cfg KafkaConfig) *Kafka {
	maxBytes := cfg.MaxMessageBytes
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	w := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Balancer: &kafka.Hash{},

		BatchSize:    1,
		BatchBytes:   maxBytes,
		BatchTimeout: 5 * time.Millisecond,

		RequiredAcks: parseAcks(cfg.RequiredAcks),
		MaxAttempts:  cfg.MaxAttempts,
		Compression:  parseCompression(cfg.Compression),
	}
	return &Kafka{writer: w, maxBytes: maxBytes}
}

// Publish writes data to the topic named subject.
func (k *Kafka) Publish(ctx context.Context, subject string, data []byte) error {
	return k.writer.WriteMessages(ctx, kafka.Message{Topic: subject, Value: data})
}

// MaxPayload implements publish.Transport.
func (k *Kafka) MaxPayload() int64 { return k.maxBytes - kafkaRecordOverhead }

// Close flushes and closes the writer.
func (k *Kafka) Close() error { return k.writer.Close() }

func parseCompression(s string) kafka.Compression {
	switch strings.ToLower(s) {
	case "", "none", "no", "off", "0":
		return kafka.Compression(0)
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Snappy
	}
}

func parseAcks(s string) kafka.RequiredAcks {
	switch strings.ToLower(s) {
	case "none":
		return kafka.RequireNone
	case "all":
		return kafka.RequireAll
	default:
		return kafka.RequireOne
	}
}
