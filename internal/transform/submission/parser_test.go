package submission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatlog/pkg/models"
)

func TestParseFlatSubmission(t *testing.T) {
	ev, err := Parse([]byte(`{"owner":"t1","source_ip":"10.0.0.1","destination_port":22,"event":"failed login","severity":"CRITICAL","timestamp":"2026-02-01T10:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, "t1", ev.Owner)
	assert.Equal(t, "10.0.0.1", ev.SourceIP)
	assert.Equal(t, 22, ev.Port())
	assert.Equal(t, "failed login", ev.Text)
	assert.Empty(t, ev.Severity)
	assert.Equal(t, time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC), ev.Timestamp)
}

func TestParseNestedSubmission(t *testing.T) {
	ev, err := Parse([]byte(`{"owner":"t1","source":{"ip":"10.0.0.2"},"destination":{"port":"443"},"message":"GET /"}`))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", ev.SourceIP)
	assert.Equal(t, 443, ev.Port())
	assert.Equal(t, "GET /", ev.Text)
}

func TestParseOptionalFields(t *testing.T) {
	ev, err := Parse([]byte(`{"owner":"t1","event":"heartbeat","destination_port":null}`))
	require.NoError(t, err)
	assert.False(t, ev.HasSourceIP())
	assert.False(t, ev.HasDestinationPort())
	assert.True(t, ev.Timestamp.IsZero())
}

func TestParseRejectsMissingOwner(t *testing.T) {
	_, err := Parse([]byte(`{"source_ip":"10.0.0.1","event":"x"}`))
	assert.ErrorIs(t, err, models.ErrMissingOwner)
}

func TestParseRejectsBadPorts(t *testing.T) {
	for _, payload := range []string{
		`{"owner":"t1","destination_port":"ssh"}`,
		`{"owner":"t1","destination_port":70000}`,
		`{"owner":"t1","destination_port":22.5}`,
		`{"owner":"t1","destination_port":true}`,
	} {
		_, err := Parse([]byte(payload))
		assert.Error(t, err, payload)
	}
}

func TestParseRejectsInvalidJSON(t *testing.T) {
	_, err := Parse([]byte(`{not json`))
	assert.Error(t, err)
}
