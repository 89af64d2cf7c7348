package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krisbrooking/Rowbot-sub000/pkg/connector"
	"github.com/krisbrooking/Rowbot-sub000/pkg/entity"
)

type payment struct {
	entity.Fact
	Ref    string     `etl:"ref,natural"`
	Cents  int64      `etl:"cents"`
	Paid   *time.Time `etl:"paid"`
	Method string     `etl:"-"`
}

// offsets is a partition holding [oldest, next).
type offsets struct{ oldest, next int64 }

func (o offsets) GetOffset(_ string, _ int32, t int64) (int64, error) {
	if t == sarama.OffsetOldest {
		return o.oldest, nil
	}
	return o.next, nil
}

func message(offset int64, value string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{Offset: offset, Value: []byte(value)}
}

func TestQueryPages(t *testing.T) {
	tests := []struct {
		name   string
		params []connector.Parameter
		start  int64 // -1 when the partition is not consumed
		yield  []string
		want   []string
	}{
		{
			name:   "limit",
			params: []connector.Parameter{connector.NewParameter("offset", 0), connector.NewParameter("limit", 2)},
			start:  5,
			yield:  []string{`{"ref":"p-5"}`, `{"ref":"p-6"}`, `{"ref":"p-7"}`},
			want:   []string{"p-5", "p-6"},
		},
		{
			name:   "stops at high water mark",
			params: []connector.Parameter{connector.NewParameter("offset", 1), connector.NewParameter("limit", 10)},
			start:  6,
			yield:  []string{`{"ref":"p-6"}`, `{"ref":"p-7"}`},
			want:   []string{"p-6", "p-7"},
		},
		{
			name:   "past the end",
			params: []connector.Parameter{connector.NewParameter("offset", 3), connector.NewParameter("limit", 10)},
			start:  -1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			consumer := mocks.NewConsumer(t, nil)
			if tt.start >= 0 {
				pc := consumer.ExpectConsumePartition("payments", 0, tt.start)
				for i, v := range tt.yield {
					pc.YieldMessage(message(tt.start+int64(i), v))
				}
			}

			r, err := newReader[*payment](offsets{oldest: 5, next: 8}, consumer, Config{Topic: "payments", MaxWait: time.Second})
			require.NoError(t, err)

			rows, err := r.Query(context.Background(), tt.params)
			require.NoError(t, err)
			var refs []string
			for _, row := range rows {
				refs = append(refs, row.Ref)
			}
			assert.Equal(t, tt.want, refs)
		})
	}
}

func TestDecode(t *testing.T) {
	desc := entity.MustDescribe[*payment]()

	row, err := decode[*payment](desc, []byte(`{
		"ref": "p-1",
		"cents": 1250,
		"paid": "2024-02-03T04:05:06Z",
		"key_hash": "AQI=",
		"is_deleted": true,
		"method": "card",
		"unmapped": {"nested": 1}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "p-1", row.Ref)
	assert.Equal(t, int64(1250), row.Cents)
	require.NotNil(t, row.Paid)
	assert.True(t, time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC).Equal(*row.Paid))
	assert.Equal(t, []byte{1, 2}, row.KeyHash)
	assert.True(t, row.IsDeleted)
	assert.Empty(t, row.Method, "skipped fields are not decoded")

	_, err = decode[*payment](desc, []byte(`{"paid": "yesterday"}`))
	assert.Error(t, err)

	_, err = decode[*payment](desc, []byte(`not json`))
	assert.Error(t, err)
}

func TestSaramaConfig(t *testing.T) {
	cfg := SaramaConfig(Config{SecurityProtocol: "SASL_SSL", SASLMechanism: "SCRAM-SHA-512", SASLUsername: "etl"})
	assert.True(t, cfg.Net.TLS.Enable)
	assert.True(t, cfg.Net.SASL.Enable)
	assert.Equal(t, sarama.SASLMechanism(sarama.SASLTypeSCRAMSHA512), cfg.Net.SASL.Mechanism)
	assert.Equal(t, sarama.OffsetOldest, cfg.Consumer.Offsets.Initial)
}

func TestDialRequiresTopic(t *testing.T) {
	_, err := Dial[*payment](Config{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)
}
