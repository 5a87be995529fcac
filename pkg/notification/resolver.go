package notification

import (
	"encoding/json"
	"errors"
	"strings"
)

var (
	// ErrInvalidType indicates a bad type registration.
	ErrInvalidType = errors.New("invalid notification type")

	// ErrDuplicateType indicates a type tag was registered twice.
	ErrDuplicateType = errors.New("notification type already registered")
)

// Resolve returns the decoder for a type tag. Resolution tries the exact
// tag first, then the tag stripped of any version or assembly qualifier
// (everything after the first comma). Unknown tags resolve to the generic
// fallback decoder, so Resolve never fails.
func (r *Registry) Resolve(tag string) Decoder {
	if dec, ok := r.decoders[tag]; ok {
		return dec
	}
	if base := baseTag(tag); base != tag {
		if dec, ok := r.decoders[base]; ok {
			return dec
		}
	}
	return genericDecoder(tag)
}

// baseTag strips a version/assembly qualifier from a type tag:
// "orders.status, assembly=v2" resolves to "orders.status".
func baseTag(tag string) string {
	if idx := strings.IndexByte(tag, ','); idx >= 0 {
		return strings.TrimSpace(tag[:idx])
	}
	return tag
}

// genericDecoder produces Generic notifications for unresolvable tags. The
// envelope is recovered from the payload where possible; the raw payload is
// kept under Data. Payloads that are not JSON objects still produce a
// Generic carrying the tag and raw bytes.
func genericDecoder(tag string) Decoder {
	return func(payload []byte) (Notification, error) {
		g := &Generic{}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &g.Envelope); err != nil {
				g.Envelope = Envelope{}
			}
			g.Data = json.RawMessage(append([]byte(nil), payload...))
		}
		if g.Type == "" {
			g.Type = baseTag(tag)
		}
		return g, nil
	}
}
