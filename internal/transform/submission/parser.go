// Package submission decodes queued log submissions into events.
package submission

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"threatlog/pkg/models"
)

// Parse converts one JSON submission into an Event. Flat fields and the
// ECS-style nested forms (source.ip, destination.port, message) are accepted.
// Client-supplied severity and score are ignored.
func Parse(data []byte) (*models.Event, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode submission: %w", err)
	}

	event := &models.Event{
		Owner:    strings.TrimSpace(getString(raw, "owner", "tenant", "user_id")),
		SourceIP: strings.TrimSpace(getString(raw, "source_ip", "source.ip", "src_ip")),
		Text:     getString(raw, "event", "message", "event.original"),
	}
	if event.Owner == "" {
		return nil, models.ErrMissingOwner
	}

	port, ok, err := getPort(raw, "destination_port", "destination.port", "dst_port")
	if err != nil {
		return nil, err
	}
	if ok {
		event.DestinationPort = models.IntPtr(port)
	}

	if ts := getString(raw, "timestamp", "@timestamp"); ts != "" {
		if t, ok := parseTimestamp(ts); ok {
			event.Timestamp = t
		}
	}
	return event, nil
}

func parseTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	for _, layout := range []string{
		"2006-01-02 15:04:05.000000",
		"2006-01-02 15:04:05.000",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func getPort(root map[string]interface{}, paths ...string) (int, bool, error) {
	for _, path := range paths {
		v, ok := getPath(root, path)
		if !ok || v == nil {
			continue
		}
		var port int
		switch val := v.(type) {
		case float64:
			if val != float64(int64(val)) {
				return 0, false, fmt.Errorf("destination port %v is not an integer", val)
			}
			port = int(val)
		case string:
			val = strings.TrimSpace(val)
			if val == "" {
				continue
			}
			parsed, err := strconv.Atoi(val)
			if err != nil {
				return 0, false, fmt.Errorf("destination port %q: %w", val, err)
			}
			port = parsed
		default:
			return 0, false, fmt.Errorf("destination port has unsupported type %T", v)
		}
		if port < 0 || port > 65535 {
			return 0, false, fmt.Errorf("destination port %d out of range", port)
		}
		return port, true, nil
	}
	return 0, false, nil
}

func getString(root map[string]interface{}, paths ...string) string {
	for _, path := range paths {
		if v, ok := getPath(root, path); ok {
			switch val := v.(type) {
			case string:
				return val
			case float64:
				if val == float64(int64(val)) {
					return strconv.FormatInt(int64(val), 10)
				}
				return strconv.FormatFloat(val, 'f', -1, 64)
			}
		}
	}
	return ""
}

// getPath resolves a literal key first, then a dotted path.
func getPath(root map[string]interface{}, path string) (interface{}, bool) {
	if v, ok := root[path]; ok {
		return v, true
	}
	parts := strings.Split(path, ".")
	if len(parts) == 1 {
		return nil, false
	}
	var current interface{} = root
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		current = v
	}
	return current, true
}
