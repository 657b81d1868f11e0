package rules

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	sigma "github.com/bradleyjkemp/sigma-go"
	sigmaevaluator "github.com/bradleyjkemp/sigma-go/evaluator"

	"threatlog/internal/logger"
	"threatlog/internal/store"
	"threatlog/pkg/models"
)

// SigmaLoadStats tracks the number of loaded and skipped rules.
type SigmaLoadStats struct {
	TotalFiles     int
	Loaded         int
	SkippedComplex int
	SkippedInvalid int
}

type compiledSigmaRule struct {
	id    string
	title string
	level models.Severity
	tags  []string
	eval  *sigmaevaluator.RuleEvaluator
}

// SigmaRule matches single-event Sigma rules against the event fields
// owner, source_ip, destination_port, event, severity and score. All matching
// rules are folded into one alert at the highest matched level.
type SigmaRule struct {
	rules []compiledSigmaRule
}

// NewSigmaRule loads Sigma rules from a file or directory and compiles evaluators.
// Rules that need aggregation, timeframes or keyword searches are skipped.
func NewSigmaRule(path string) (*SigmaRule, SigmaLoadStats, error) {
	var stats SigmaLoadStats

	files, err := sigmaFiles(path)
	if err != nil {
		return nil, stats, err
	}

	stats.TotalFiles = len(files)
	compiled := make([]compiledSigmaRule, 0, len(files))
	for _, ruleFile := range files {
		raw, err := os.ReadFile(ruleFile)
		if err != nil {
			stats.SkippedInvalid++
			continue
		}
		rule, err := sigma.ParseRule(raw)
		if err != nil {
			logger.Debugf("Skipping sigma rule %s: %v", ruleFile, err)
			stats.SkippedInvalid++
			continue
		}
		if ok, reason := isSimpleSingleEventRule(rule); !ok {
			logger.Debugf("Skipping sigma rule %s: %s", ruleFile, reason)
			stats.SkippedComplex++
			continue
		}
		compiled = append(compiled, compileSigmaRule(rule))
		stats.Loaded++
	}

	return &SigmaRule{rules: compiled}, stats, nil
}

func sigmaFiles(path string) ([]string, error) {
	resolved, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve rule path: %w", err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat rule path: %w", err)
	}
	if !info.IsDir() {
		if !isYAMLFile(resolved) {
			return nil, fmt.Errorf("rule file must end with .yml or .yaml: %s", resolved)
		}
		return []string{resolved}, nil
	}

	files := make([]string, 0, 64)
	err = filepath.WalkDir(resolved, func(filePath string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !entry.IsDir() && isYAMLFile(filePath) {
			files = append(files, filePath)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk rule directory: %w", err)
	}
	return files, nil
}

func compileSigmaRule(rule sigma.Rule) compiledSigmaRule {
	id := strings.TrimSpace(rule.ID)
	if id == "" {
		id = strings.TrimSpace(rule.Title)
	}
	level, ok := models.ParseSeverity(rule.Level)
	if !ok {
		level = models.SeverityMedium
	}
	return compiledSigmaRule{
		id:    id,
		title: strings.TrimSpace(rule.Title),
		level: level,
		tags:  rule.Tags,
		eval:  sigmaevaluator.ForRule(rule),
	}
}

func (r *SigmaRule) Name() string { return "sigma" }

// Len reports the number of compiled rules.
func (r *SigmaRule) Len() int {
	if r == nil {
		return 0
	}
	return len(r.rules)
}

func (r *SigmaRule) Evaluate(ctx context.Context, _ store.Reader, owner string, event *models.Event, _ time.Time) (*models.Alert, error) {
	if r.Len() == 0 || event == nil {
		return nil, nil
	}

	fields := sigmaEventFrom(owner, event)
	var (
		matched []string
		level   models.Severity
	)
	for _, rule := range r.rules {
		res, err := rule.eval.Matches(ctx, fields)
		if err != nil {
			logger.Debugf("Sigma rule %s evaluation failed: %v", rule.id, err)
			continue
		}
		if !res.Match {
			continue
		}
		matched = append(matched, rule.id)
		if rule.level.Rank() > level.Rank() {
			level = rule.level
		}
	}
	if len(matched) == 0 {
		return nil, nil
	}

	return &models.Alert{
		Type:        models.AlertTypeSigma,
		Severity:    level,
		Description: fmt.Sprintf("Sigma rules matched for %s: %s", displaySource(event), strings.Join(matched, ", ")),
		SourceIP:    event.SourceIP,
		Metadata:    map[string]interface{}{"rules": matched},
	}, nil
}

func displaySource(event *models.Event) string {
	if event.SourceIP == "" {
		return "unknown source"
	}
	return event.SourceIP
}

func isYAMLFile(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".yml") || strings.HasSuffix(lower, ".yaml")
}

func isSimpleSingleEventRule(rule sigma.Rule) (bool, string) {
	if rule.Detection.Timeframe > 0 {
		return false, "timeframe is not supported"
	}
	for _, cond := range rule.Detection.Conditions {
		if cond.Aggregation != nil {
			return false, "aggregation condition is not supported"
		}
		if !isSimpleSearchExpression(cond.Search) {
			return false, "complex condition expression is not supported"
		}
	}
	for _, search := range rule.Detection.Searches {
		if len(search.Keywords) > 0 {
			return false, "keyword search is not supported"
		}
		if len(search.EventMatchers) == 0 {
			return false, "search has no event matchers"
		}
	}
	return true, ""
}

func isSimpleSearchExpression(expr sigma.SearchExpr) bool {
	switch e := expr.(type) {
	case sigma.SearchIdentifier:
		return true
	case sigma.And:
		for _, child := range e {
			if !isSimpleSearchExpression(child) {
				return false
			}
		}
		return true
	case sigma.Or:
		for _, child := range e {
			if !isSimpleSearchExpression(child) {
				return false
			}
		}
		return true
	case sigma.Not:
		return isSimpleSearchExpression(e.Expr)
	default:
		return false
	}
}

func sigmaEventFrom(owner string, event *models.Event) map[string]interface{} {
	buf := map[string]interface{}{
		"owner":    owner,
		"event":    event.Text,
		"severity": string(event.Severity),
		"score":    event.Score,
	}
	if event.SourceIP != "" {
		buf["source_ip"] = event.SourceIP
	}
	if event.HasDestinationPort() {
		buf["destination_port"] = event.Port()
	}
	return buf
}
