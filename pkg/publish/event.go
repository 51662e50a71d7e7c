// Package publish turns upload results into retained capture events on a
// message bus.
package publish

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Description labels every event produced by the periodic capture.
const Description = "Scheduled capture"

// TopicSuffix is appended to the configured prefix to form the capture topic.
const TopicSuffix = "camera-captures"

// EventRecord is the payload announcing a stored capture. Absent references
// are encoded as JSON null.
type EventRecord struct {
	Timestamp   int64   `json:"timestamp"`
	URL         *string `json:"url"`
	ThumbURL    *string `json:"thumb_url"`
	Description string  `json:"description"`
}

// NewEventRecord builds the record for a frame captured at capturedAt.
func NewEventRecord(capturedAt time.Time, url, thumbURL *string) EventRecord {
	return EventRecord{
		Timestamp:   capturedAt.Unix(),
		URL:         url,
		ThumbURL:    thumbURL,
		Description: Description,
	}
}

// Marshal encodes the record as compact JSON without HTML escaping, so URLs
// keep their query separators.
func (r EventRecord) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Topic returns "/<prefix>/camera-captures". Leading and trailing slashes in
// prefix are ignored.
func Topic(prefix string) string {
	return "/" + strings.Trim(prefix, "/") + "/" + TopicSuffix
}
