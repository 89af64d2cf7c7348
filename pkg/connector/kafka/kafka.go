// Package kafka extracts entities from a Kafka topic partition. Each
// message value is one JSON document keyed by column name. The reader fits
// offset pagination: the offset parameter counts messages from the oldest
// retained one and a page ends at the limit or at the high water mark.
package kafka

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"io"
	"reflect"
	"time"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/krisbrooking/Rowbot-sub000/pkg/connector"
	"github.com/krisbrooking/Rowbot-sub000/pkg/entity"
	"github.com/krisbrooking/Rowbot-sub000/pkg/errors"
	"github.com/krisbrooking/Rowbot-sub000/pkg/logger"
)

// Config describes the brokers and the partition to read.
type Config struct {
	Brokers   []string      `mapstructure:"brokers"`
	Topic     string        `mapstructure:"topic"`
	Partition int32         `mapstructure:"partition"`
	MaxWait   time.Duration `mapstructure:"max_wait"`

	SecurityProtocol      string `mapstructure:"security_protocol"`
	TLSInsecureSkipVerify bool   `mapstructure:"tls_insecure_skip_verify"`
	SASLMechanism         string `mapstructure:"sasl_mechanism"`
	SASLUsername          string `mapstructure:"sasl_username"`
	SASLPassword          string `mapstructure:"sasl_password"`
}

// SaramaConfig builds the client configuration for cfg.
func SaramaConfig(cfg Config) *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = "rowbot"
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetOldest

	if cfg.SecurityProtocol == "SASL_SSL" || cfg.SecurityProtocol == "SSL" {
		config.Net.TLS.Enable = true
		config.Net.TLS.Config = &tls.Config{
			InsecureSkipVerify: cfg.TLSInsecureSkipVerify,
		}
	}

	if cfg.SASLMechanism != "" {
		config.Net.SASL.Enable = true
		config.Net.SASL.User = cfg.SASLUsername
		config.Net.SASL.Password = cfg.SASLPassword

		switch cfg.SASLMechanism {
		case "PLAIN":
			config.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		case "SCRAM-SHA-256":
			config.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		case "SCRAM-SHA-512":
			config.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		}
	}
	return config
}

// offsetSource looks up partition offsets; sarama.Client implements it.
type offsetSource interface {
	GetOffset(topic string, partitionID int32, time int64) (int64, error)
}

// Reader reads T from one partition.
type Reader[T any] struct {
	offsets   offsetSource
	consumer  sarama.Consumer
	client    io.Closer
	desc      *entity.Descriptor
	topic     string
	partition int32
	maxWait   time.Duration
	logger    *zap.Logger
}

// Dial connects to the brokers of cfg and returns a reader of T. Close
// releases the connection.
func Dial[T any](cfg Config) (*Reader[T], error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "kafka brokers and topic are required")
	}
	client, err := sarama.NewClient(cfg.Brokers, SaramaConfig(cfg))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create kafka client")
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		client.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create kafka consumer")
	}
	r, err := newReader[T](client, consumer, cfg)
	if err != nil {
		client.Close()
		return nil, err
	}
	r.client = client
	return r, nil
}

// Close closes the consumer and the client it was dialled with.
func (r *Reader[T]) Close() error {
	err := r.consumer.Close()
	if r.client != nil {
		if cerr := r.client.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func newReader[T any](offsets offsetSource, consumer sarama.Consumer, cfg Config) (*Reader[T], error) {
	desc, err := entity.Describe[T]()
	if err != nil {
		return nil, err
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 10 * time.Second
	}
	return &Reader[T]{
		offsets:   offsets,
		consumer:  consumer,
		desc:      desc,
		topic:     cfg.Topic,
		partition: cfg.Partition,
		maxWait:   cfg.MaxWait,
		logger: logger.Get().With(zap.String("component", "kafka_reader"),
			zap.String("topic", cfg.Topic), zap.Int32("partition", cfg.Partition)),
	}, nil
}

// Query implements connector.Reader. It returns nothing once the partition
// has been read up to the high water mark observed when the query started.
func (r *Reader[T]) Query(ctx context.Context, params []connector.Parameter) ([]T, error) {
	oldest, err := r.offsets.GetOffset(r.topic, r.partition, sarama.OffsetOldest)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "get oldest offset")
	}
	next, err := r.offsets.GetOffset(r.topic, r.partition, sarama.OffsetNewest)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "get newest offset")
	}

	start := oldest
	if v, ok := connector.Lookup(params, connector.ParamOffset); ok {
		start += toInt64(v)
	}
	if start >= next {
		return nil, nil
	}
	limit := next - start
	if v, ok := connector.Lookup(params, connector.ParamLimit); ok {
		if l := toInt64(v); l > 0 && l < limit {
			limit = l
		}
	}

	pc, err := r.consumer.ConsumePartition(r.topic, r.partition, start)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeExtraction, "consume partition")
	}
	defer pc.Close()

	timeout := time.NewTimer(r.maxWait)
	defer timeout.Stop()

	out := make([]T, 0, limit)
	for int64(len(out)) < limit {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout.C:
			return nil, errors.Newf(errors.ErrorTypeTimeout, "no message from %s/%d within %s", r.topic, r.partition, r.maxWait)
		case cerr, ok := <-pc.Errors():
			if !ok {
				return nil, errors.New(errors.ErrorTypeExtraction, "partition consumer closed")
			}
			return nil, errors.Wrap(cerr, errors.ErrorTypeExtraction, "consume partition")
		case msg := <-pc.Messages():
			row, err := decode[T](r.desc, msg.Value)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeExtraction, "decode message").
					WithDetail("offset", msg.Offset)
			}
			out = append(out, row)
			if msg.Offset >= next-1 {
				r.logger.Debug("reached high water mark", zap.Int64("offset", msg.Offset))
				return out, nil
			}
		}
	}
	return out, nil
}

// decode reads a JSON object into a new T by column name. Times are
// RFC 3339 strings and byte slices base64, as encoding/json writes them.
func decode[T any](desc *entity.Descriptor, value []byte) (T, error) {
	row := entity.New[T]()
	var doc map[string]any
	if err := json.Unmarshal(value, &doc); err != nil {
		return row, err
	}
	for column, v := range doc {
		f := desc.Field(column)
		if f == nil {
			continue
		}
		if s, ok := v.(string); ok {
			converted, err := fromString(f, s)
			if err != nil {
				return row, errors.Wrap(err, errors.ErrorTypeValidation, "field "+column)
			}
			v = converted
		}
		if err := f.Set(row, v); err != nil {
			return row, err
		}
	}
	return row, nil
}

var timeType = reflect.TypeOf(time.Time{})

func fromString(f *entity.Field, s string) (any, error) {
	t := f.Type
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch {
	case t == timeType:
		return time.Parse(time.RFC3339Nano, s)
	case t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8:
		return base64.StdEncoding.DecodeString(s)
	}
	return s, nil
}

func toInt64(v any) int64 {
	rv := reflect.ValueOf(v)
	switch {
	case rv.CanInt():
		return rv.Int()
	case rv.CanUint():
		return int64(rv.Uint())
	}
	return 0
}
