package codec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/purifier-bridge/internal/profile"
)

// Legacy text format delimiters.
const (
	legacyEntrySep = ';'
	legacyKVSep    = '='
	legacyQuote    = '"'
	legacyEscape   = '\\'
)

// legacyCodec handles the flat key=value text format:
//
//	pwr=1;mode="P";speed=2;pm25=34;
//
// Bare tokens that parse as numbers decode to int64 or float64; any other
// bare token decodes to a string. Quoted values always decode to strings.
type legacyCodec struct {
	baseCodec
}

func (c *legacyCodec) Decode(plaintext []byte) (StatusMap, error) {
	s := strings.TrimSpace(string(plaintext))
	if s == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedPayload)
	}

	out := make(StatusMap)
	i := 0
	for i < len(s) {
		// key
		start := i
		for i < len(s) && s[i] != legacyKVSep && s[i] != legacyEntrySep {
			if s[i] == legacyQuote {
				return nil, fmt.Errorf("%w: quote in key at offset %d", ErrMalformedPayload, i)
			}
			i++
		}
		if i == len(s) || s[i] == legacyEntrySep {
			return nil, fmt.Errorf("%w: entry without '=' at offset %d", ErrMalformedPayload, start)
		}
		key := strings.TrimSpace(s[start:i])
		if key == "" {
			return nil, fmt.Errorf("%w: empty key at offset %d", ErrMalformedPayload, start)
		}
		if _, dup := out[key]; dup {
			return nil, fmt.Errorf("%w: duplicate key %q", ErrMalformedPayload, key)
		}
		i++ // '='

		var (
			value any
			err   error
		)
		if i < len(s) && s[i] == legacyQuote {
			var str string
			str, i, err = readQuoted(s, i)
			if err != nil {
				return nil, err
			}
			value = str
		} else {
			start = i
			for i < len(s) && s[i] != legacyEntrySep {
				if s[i] == legacyQuote || s[i] == legacyKVSep {
					return nil, fmt.Errorf("%w: unexpected %q in value of %q", ErrMalformedPayload, s[i], key)
				}
				i++
			}
			token := strings.TrimSpace(s[start:i])
			if token == "" {
				return nil, fmt.Errorf("%w: empty value for %q", ErrMalformedPayload, key)
			}
			value = parseToken(token)
		}

		if value, err = c.checkValue(key, value); err != nil {
			return nil, err
		}
		out[key] = value

		if i < len(s) {
			// s[i] is the entry separator; a single trailing one is allowed.
			i++
			if i < len(s) && strings.TrimSpace(s[i:]) == "" {
				break
			}
		}
	}
	return out, nil
}

// readQuoted reads a double-quoted string starting at s[i] and returns the
// unescaped value and the offset after the closing quote and any spaces.
func readQuoted(s string, i int) (string, int, error) {
	var b strings.Builder
	i++ // opening quote
	for {
		if i >= len(s) {
			return "", i, fmt.Errorf("%w: unterminated quoted value", ErrMalformedPayload)
		}
		ch := s[i]
		switch ch {
		case legacyEscape:
			if i+1 >= len(s) {
				return "", i, fmt.Errorf("%w: dangling escape", ErrMalformedPayload)
			}
			b.WriteByte(s[i+1])
			i += 2
			continue
		case legacyQuote:
			i++
			for i < len(s) && s[i] == ' ' {
				i++
			}
			if i < len(s) && s[i] != legacyEntrySep {
				return "", i, fmt.Errorf("%w: trailing data after quoted value", ErrMalformedPayload)
			}
			return b.String(), i, nil
		}
		b.WriteByte(ch)
		i++
	}
}

// parseToken converts a bare token to int64, float64 or string.
func parseToken(token string) any {
	if n, err := strconv.ParseInt(token, 10, 64); err == nil {
		return n
	}
	if strings.ContainsRune(token, '.') {
		if f, err := strconv.ParseFloat(token, 64); err == nil {
			return f
		}
	}
	return token
}

func (c *legacyCodec) Encode(fields StatusMap) ([]byte, error) {
	if err := c.checkCommand(fields); err != nil {
		return nil, err
	}

	return encodeLegacy(fields), nil
}

func encodeLegacy(fields StatusMap) []byte {
	var b strings.Builder
	for i, k := range fields.Keys() {
		if i > 0 {
			b.WriteByte(legacyEntrySep)
		}
		b.WriteString(k)
		b.WriteByte(legacyKVSep)
		writeLegacyValue(&b, fields[k])
	}
	return []byte(b.String())
}

func writeLegacyValue(b *strings.Builder, v any) {
	switch n := v.(type) {
	case string:
		b.WriteByte(legacyQuote)
		for i := 0; i < len(n); i++ {
			if n[i] == legacyQuote || n[i] == legacyEscape {
				b.WriteByte(legacyEscape)
			}
			b.WriteByte(n[i])
		}
		b.WriteByte(legacyQuote)
	case bool:
		if n {
			b.WriteString("1")
		} else {
			b.WriteString("0")
		}
	default:
		switch x := profile.NormaliseRaw(v).(type) {
		case int64:
			b.WriteString(strconv.FormatInt(x, 10))
		case float64:
			b.WriteString(strconv.FormatFloat(x, 'f', -1, 64))
		}
	}
}
