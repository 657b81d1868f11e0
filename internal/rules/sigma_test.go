package rules

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatlog/pkg/models"
)

const sudoRule = `title: Sudo usage
id: sudo-usage
level: high
logsource:
  product: threatlog
detection:
  selection:
    event|contains: sudo
  condition: selection
`

const keywordRule = `title: Keyword only
id: keyword-only
level: low
logsource:
  product: threatlog
detection:
  keywords:
    - sudo
  condition: keywords
`

func writeRules(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
	return dir
}

func TestNewSigmaRuleLoadsSimpleRules(t *testing.T) {
	dir := writeRules(t, map[string]string{
		"sudo.yml":     sudoRule,
		"keywords.yml": keywordRule,
		"broken.yaml":  "title: [unterminated",
		"README.md":    "not a rule",
	})

	rule, stats, err := NewSigmaRule(dir)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalFiles)
	assert.Equal(t, 1, stats.Loaded)
	assert.Equal(t, 1, stats.SkippedComplex)
	assert.Equal(t, 1, stats.SkippedInvalid)
	assert.Equal(t, 1, rule.Len())
}

func TestSigmaRuleMatchesEventText(t *testing.T) {
	dir := writeRules(t, map[string]string{"sudo.yml": sudoRule})
	rule, _, err := NewSigmaRule(dir)
	require.NoError(t, err)

	ev := &models.Event{Owner: "t1", SourceIP: "10.0.0.7", Text: "user ran sudo su", Timestamp: base}
	alert, err := rule.Evaluate(context.Background(), nil, "t1", ev, base)
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, models.AlertTypeSigma, alert.Type)
	assert.Equal(t, models.SeverityHigh, alert.Severity)
	assert.Equal(t, []string{"sudo-usage"}, alert.Metadata["rules"])

	miss := &models.Event{Owner: "t1", SourceIP: "10.0.0.7", Text: "user logged out", Timestamp: base}
	alert, err = rule.Evaluate(context.Background(), nil, "t1", miss, base)
	require.NoError(t, err)
	assert.Nil(t, alert)
}

func TestNewSigmaRuleRejectsNonYAMLFile(t *testing.T) {
	dir := writeRules(t, map[string]string{"rule.txt": sudoRule})
	_, _, err := NewSigmaRule(filepath.Join(dir, "rule.txt"))
	assert.Error(t, err)
}
