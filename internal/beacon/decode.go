package beacon

import (
	"encoding/base64"
	"regexp"
	"strings"
)

// DecodeStatus tags the outcome of a manufacturer data decode
type DecodeStatus int

const (
	DecodeAbsent    DecodeStatus = iota // no payload in the advertisement
	DecodeMalformed                     // payload present but not in the beacon format
	DecodeOK
)

func (s DecodeStatus) String() string {
	switch s {
	case DecodeOK:
		return "ok"
	case DecodeMalformed:
		return "malformed"
	default:
		return "absent"
	}
}

// Decoded holds the fields a sensor beacon carries in its manufacturer data.
// The fields are only set when Status is DecodeOK.
type Decoded struct {
	Status      DecodeStatus
	NamespaceID string
	InstanceID  string
	Name        string
}

// The beacon writes "namespace;instance;name;counter". The counter is not kept.
var payloadPattern = regexp.MustCompile(`([^;]+);([^;]+);([^;]+);(\d+)`)

// DecodeManufacturerData decodes a base64 manufacturer payload.
//
// Bytes outside printable ASCII are dropped before matching, so the company
// identifier and any framing bytes around the text do not matter. The first
// match anywhere in the remaining text wins.
func DecodeManufacturerData(encoded string) Decoded {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return Decoded{Status: DecodeAbsent}
	}

	raw, err := decodeBase64(encoded)
	if err != nil {
		return Decoded{Status: DecodeMalformed}
	}

	m := payloadPattern.FindStringSubmatch(printable(raw))
	if m == nil {
		return Decoded{Status: DecodeMalformed}
	}

	return Decoded{
		Status:      DecodeOK,
		NamespaceID: m[1],
		InstanceID:  m[2],
		Name:        m[3],
	}
}

// decodeBase64 accepts padded and unpadded standard base64
func decodeBase64(s string) ([]byte, error) {
	if raw, err := base64.StdEncoding.DecodeString(s); err == nil {
		return raw, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

// printable keeps the bytes in 0x20..0x7E
func printable(raw []byte) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, c := range raw {
		if c >= 0x20 && c <= 0x7E {
			b.WriteByte(c)
		}
	}
	return b.String()
}
