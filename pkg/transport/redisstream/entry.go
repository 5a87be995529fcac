package redisstream

import (
	"fmt"
	"strconv"
	"time"
)

// Stream entry field names. These are the wire contract shared by the
// publisher and every consumer of the streams; changing them breaks
// in-flight entries.
const (
	fieldType           = "Type"
	fieldPayload        = "Payload"
	fieldNotificationID = "NotificationId"
	fieldTimestamp      = "Timestamp"
	fieldSequence       = "Sequence"
	fieldUpdateKey      = "UpdateKey"

	// fieldInit marks the sentinel entry appended to create a stream.
	fieldInit = "init"
)

// entry is the decoded view of one stream record.
type entry struct {
	Type           string
	Payload        []byte
	NotificationID string
	Timestamp      time.Time
	Sequence       int64
	HasSequence    bool
	UpdateKey      string
	Init           bool
}

// parseEntry extracts the envelope fields from a raw stream record.
// go-redis delivers stream values as map[string]interface{} with string
// values.
func parseEntry(values map[string]interface{}) (*entry, error) {
	e := &entry{}
	if _, ok := values[fieldInit]; ok {
		e.Init = true
		return e, nil
	}

	typeTag, ok := stringField(values, fieldType)
	if !ok || typeTag == "" {
		return nil, fmt.Errorf("stream entry has no %s field", fieldType)
	}
	e.Type = typeTag

	if payload, ok := stringField(values, fieldPayload); ok {
		e.Payload = []byte(payload)
	}
	e.NotificationID, _ = stringField(values, fieldNotificationID)
	e.UpdateKey, _ = stringField(values, fieldUpdateKey)

	if ts, ok := stringField(values, fieldTimestamp); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.Timestamp = parsed
		}
	}
	if raw, ok := stringField(values, fieldSequence); ok {
		seq, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s field %q: %w", fieldSequence, raw, err)
		}
		e.Sequence = seq
		e.HasSequence = true
	}
	return e, nil
}

func stringField(values map[string]interface{}, key string) (string, bool) {
	v, ok := values[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
