package payloadcodec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aquaseal/watermark-engine/backend/internal/hashutil"
	"github.com/aquaseal/watermark-engine/backend/models"
)

// Encode renders the full five-field payload record in the canonical
// encoding. This is the byte sequence every embedder actually stores.
func Encode(p models.Payload) []byte {
	s := encodeCanonical([]field{
		{"user_id", p.UserID},
		{"timestamp", p.Timestamp},
		{"metadata_hash", p.MetadataHash},
		{"content_hash", p.ContentHash},
		{"license", p.License},
	})
	return []byte(s)
}

// WatermarkHash returns the hex SHA-256 digest of the canonical encoding of
// exactly {user_id, timestamp, metadata_hash, license} — content_hash is
// deliberately excluded, matching the original implementation's
// watermark_hash.py.
func WatermarkHash(p models.Payload) string {
	s := encodeCanonical([]field{
		{"user_id", p.UserID},
		{"timestamp", p.Timestamp},
		{"metadata_hash", p.MetadataHash},
		{"license", p.License},
	})
	return hashutil.HashString(s)
}

// CanonicalMetadataHash hashes an arbitrary string-keyed metadata map the
// way the original implementation does: str(sorted(metadata.items())), a
// Python list-of-tuples repr, not the JSON encoding Encode/WatermarkHash use.
// watermark_hash is derived in part from this value, so the two encodings
// must not be conflated or cross-implementation hashes stop matching.
func CanonicalMetadataHash(metadata map[string]string) string {
	fields := make([]field, 0, len(metadata))
	for k, v := range metadata {
		fields = append(fields, field{k, v})
	}
	return hashutil.HashString(encodePythonReprTuples(fields))
}

// Decode parses bytes previously produced by Encode back into a Payload.
// It is a small hand-rolled parser rather than encoding/json because the
// embedded bytes are the canonical (non-standard-escaping-guaranteed) form
// this package itself writes, and Decode only ever needs to read that
// exact shape back.
func Decode(data []byte) (models.Payload, error) {
	s := strings.TrimSpace(string(data))
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return models.Payload{}, fmt.Errorf("%w: not a canonical payload object", models.ErrInvalidPayloadFormat)
	}
	s = s[1 : len(s)-1]

	raw := map[string]string{}
	pos := 0
	for pos < len(s) {
		for pos < len(s) && (s[pos] == ' ' || s[pos] == ',') {
			pos++
		}
		if pos >= len(s) {
			break
		}
		key, newPos, err := parseJSONStringAt(s, pos)
		if err != nil {
			return models.Payload{}, fmt.Errorf("%w: %v", models.ErrInvalidPayloadFormat, err)
		}
		pos = newPos
		for pos < len(s) && (s[pos] == ' ' || s[pos] == ':') {
			pos++
		}
		if pos >= len(s) {
			return models.Payload{}, fmt.Errorf("%w: truncated value", models.ErrInvalidPayloadFormat)
		}
		if s[pos] == '"' {
			val, np, err := parseJSONStringAt(s, pos)
			if err != nil {
				return models.Payload{}, fmt.Errorf("%w: %v", models.ErrInvalidPayloadFormat, err)
			}
			raw[key] = val
			pos = np
		} else {
			start := pos
			for pos < len(s) && s[pos] != ',' {
				pos++
			}
			raw[key] = strings.TrimSpace(s[start:pos])
		}
	}

	ts, err := strconv.ParseInt(raw["timestamp"], 10, 64)
	if err != nil {
		return models.Payload{}, fmt.Errorf("%w: bad timestamp: %v", models.ErrInvalidPayloadFormat, err)
	}

	p := models.Payload{
		UserID:       raw["user_id"],
		Timestamp:    ts,
		MetadataHash: raw["metadata_hash"],
		ContentHash:  raw["content_hash"],
		License:      raw["license"],
	}
	if p.UserID == "" || p.MetadataHash == "" {
		return models.Payload{}, fmt.Errorf("%w: missing required fields", models.ErrInvalidPayloadFormat)
	}
	return p, nil
}

// parseJSONStringAt parses a double-quoted, backslash-escaped JSON string
// starting at s[pos] == '"', returning the decoded value and the index just
// past the closing quote.
func parseJSONStringAt(s string, pos int) (string, int, error) {
	if pos >= len(s) || s[pos] != '"' {
		return "", pos, fmt.Errorf("expected string at offset %d", pos)
	}
	pos++
	var b strings.Builder
	for pos < len(s) {
		c := s[pos]
		if c == '"' {
			return b.String(), pos + 1, nil
		}
		if c == '\\' && pos+1 < len(s) {
			switch s[pos+1] {
			case '"':
				b.WriteByte('"')
				pos += 2
			case '\\':
				b.WriteByte('\\')
				pos += 2
			case 'n':
				b.WriteByte('\n')
				pos += 2
			case 'r':
				b.WriteByte('\r')
				pos += 2
			case 't':
				b.WriteByte('\t')
				pos += 2
			case 'b':
				b.WriteByte('\b')
				pos += 2
			case 'f':
				b.WriteByte('\f')
				pos += 2
			case 'u':
				if pos+6 > len(s) {
					return "", pos, fmt.Errorf("truncated \\u escape")
				}
				v, err := strconv.ParseUint(s[pos+2:pos+6], 16, 32)
				if err != nil {
					return "", pos, err
				}
				r := rune(v)
				pos += 6
				if r >= 0xd800 && r <= 0xdbff && pos+6 <= len(s) && s[pos] == '\\' && s[pos+1] == 'u' {
					v2, err := strconv.ParseUint(s[pos+2:pos+6], 16, 32)
					if err == nil {
						lo := rune(v2)
						if lo >= 0xdc00 && lo <= 0xdfff {
							r = ((r - 0xd800) << 10) + (lo - 0xdc00) + 0x10000
							pos += 6
						}
					}
				}
				b.WriteRune(r)
			default:
				b.WriteByte(s[pos+1])
				pos += 2
			}
			continue
		}
		b.WriteByte(c)
		pos++
	}
	return "", pos, fmt.Errorf("unterminated string")
}
