package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus(t *testing.T) {
	assert.Equal(t, "succeeded", Status(nil))
	assert.Equal(t, "failed", Status(errors.New("boom")))
}

func TestHandlerServesRowbotMetrics(t *testing.T) {
	BlockBatches.WithLabelValues("metrics-test", "load").Inc()
	BlockRows.WithLabelValues("metrics-test", "extract", OpExtracted).Add(25)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "rowbot_block_batches_total"))
	assert.Contains(t, body, `rowbot_block_rows_total{block="extract",operation="extracted",pipeline="metrics-test"} 25`)
}
