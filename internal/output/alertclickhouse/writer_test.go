package alertclickhouse

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatlog/pkg/models"
)

func TestWriteAlertsUsesJSONEachRow(t *testing.T) {
	var (
		query string
		user  string
		rows  []row
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query().Get("query")
		user = r.Header.Get("X-ClickHouse-User")
		scanner := bufio.NewScanner(r.Body)
		for scanner.Scan() {
			var rw row
			assert.NoError(t, json.Unmarshal(scanner.Bytes(), &rw))
			rows = append(rows, rw)
		}
	}))
	defer srv.Close()

	w, err := NewWriter(Config{URL: srv.URL + "/", Database: "security", Username: "ingest"})
	require.NoError(t, err)
	err = w.WriteAlerts(context.Background(), []*models.AlertRecord{{
		ID:        "a1",
		Owner:     "t1",
		AlertType: models.AlertTypePortScan,
		Severity:  models.SeverityHigh,
		SourceIP:  "10.0.0.2",
		Metadata:  map[string]interface{}{"ports_scanned": []int{21, 22}},
		CreatedAt: time.Date(2026, 2, 1, 10, 0, 0, 5_000_000, time.UTC),
	}})
	require.NoError(t, err)

	assert.Equal(t, "INSERT INTO `security`.`alerts` FORMAT JSONEachRow", query)
	assert.Equal(t, "ingest", user)
	require.Len(t, rows, 1)
	assert.Equal(t, "Port Scan", rows[0].AlertType)
	assert.JSONEq(t, `{"ports_scanned":[21,22]}`, rows[0].Metadata)
	assert.Equal(t, "2026-02-01 10:00:00.005", rows[0].CreatedAt)
}

func TestWriteAlertsSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Code: 60. Table does not exist", http.StatusNotFound)
	}))
	defer srv.Close()

	w, err := NewWriter(Config{URL: srv.URL})
	require.NoError(t, err)
	err = w.WriteAlerts(context.Background(), []*models.AlertRecord{{ID: "a1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Table does not exist")
}

func TestQuoteIdentStripsBackticks(t *testing.T) {
	assert.Equal(t, "`alerts`", quoteIdent("al`erts"))
	assert.Equal(t, "", quoteIdent(""))
}
