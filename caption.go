package agentstream

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Default caption limits, mirrored by config/tracker.yaml
const (
	DefaultCaptionMaxLength     = 120
	DefaultCaptionMaxInputBytes = 16 * 1024
	DefaultMinMeaningfulLength  = 3
)

const (
	invocationMarker = "Invoking:"
	fenceMarker      = "```"
	inquiryKey       = "inquiry"
)

// CaptionExtractor pulls a short human-readable caption out of a message's
// free-form text. Every step is a single forward scan or a JSON parse, so cost
// is linear in the inspected input, and input is capped at MaxInputBytes.
//
// Recognized shapes, in resolution order:
//  1. a fenced ```json block (unwrapped first, then the steps below apply)
//  2. "Invoking: `Agent` with `{...}`" where the payload may be single-quoted pseudo-JSON
//  3. a JSON object with an "inquiry" or "Inquiry" field
//  4. an "inquiry: value" or "inquiry=value" fragment
//  5. anything else: the first line, cut to MaxLength characters
type CaptionExtractor struct {
	maxLength     int
	maxInputBytes int
	minMeaningful int
}

// NewCaptionExtractor creates an extractor from caption config.
// Non-positive limits fall back to the defaults.
func NewCaptionExtractor(cfg CaptionConfig) *CaptionExtractor {
	x := &CaptionExtractor{
		maxLength:     cfg.MaxLength,
		maxInputBytes: cfg.MaxInputBytes,
		minMeaningful: cfg.MinMeaningfulLength,
	}
	if x.maxLength <= 0 {
		x.maxLength = DefaultCaptionMaxLength
	}
	if x.maxInputBytes <= 0 {
		x.maxInputBytes = DefaultCaptionMaxInputBytes
	}
	if x.minMeaningful < 0 {
		x.minMeaningful = DefaultMinMeaningfulLength
	}
	return x
}

var defaultExtractor = NewCaptionExtractor(CaptionConfig{
	MaxLength:           DefaultCaptionMaxLength,
	MaxInputBytes:       DefaultCaptionMaxInputBytes,
	MinMeaningfulLength: DefaultMinMeaningfulLength,
})

// ExtractCaption extracts a caption using the default limits.
func ExtractCaption(text string) string {
	return defaultExtractor.Extract(text)
}

// IsMeaningful reports whether a caption is worth displaying, using the default limits.
func IsMeaningful(text string) bool {
	return defaultExtractor.IsMeaningful(text)
}

// Extract returns the caption for text. It never panics and never returns more
// than MaxLength characters unless a structured inquiry was found.
func (x *CaptionExtractor) Extract(text string) string {
	if x == nil {
		x = defaultExtractor
	}
	text = cutBytes(text, x.maxInputBytes)
	body := stripFence(text)

	if caption, ok := x.fromInvocation(body); ok {
		return caption
	}
	if inquiry, ok := inquiryFromJSON(body); ok {
		return inquiry
	}
	if value, ok := inquiryFromKeyValue(body); ok {
		return cutRunes(value, x.maxLength)
	}
	return x.firstLine(body)
}

// IsMeaningful is false for empty text, text shorter than the minimum length
// after trimming, and purely numeric text.
func (x *CaptionExtractor) IsMeaningful(text string) bool {
	if x == nil {
		x = defaultExtractor
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if utf8.RuneCountInString(trimmed) < x.minMeaningful {
		return false
	}
	return !isNumeric(trimmed)
}

// fromInvocation handles "Invoking: `Agent` with `payload`".
func (x *CaptionExtractor) fromInvocation(body string) (string, bool) {
	idx := strings.Index(body, invocationMarker)
	if idx < 0 {
		return "", false
	}
	rest := strings.TrimLeft(body[idx+len(invocationMarker):], " \t")

	var agent string
	if strings.HasPrefix(rest, "`") {
		end := strings.IndexByte(rest[1:], '`')
		if end < 0 {
			return "", false
		}
		agent = rest[1 : end+1]
		rest = rest[end+2:]
	} else {
		end := strings.IndexAny(rest, " \t\n")
		if end < 0 {
			end = len(rest)
		}
		agent = rest[:end]
		rest = rest[end:]
	}
	agent = strings.TrimSpace(agent)
	if agent == "" {
		return "", false
	}
	bare := cutRunes(fmt.Sprintf("Invoking `%s`", agent), x.maxLength)

	rest = strings.TrimLeft(rest, " \t")
	if !strings.HasPrefix(rest, "with") {
		return bare, true
	}
	payload := strings.TrimSpace(rest[len("with"):])
	payload = strings.TrimPrefix(payload, "`")
	if end := strings.LastIndexByte(payload, '`'); end >= 0 {
		payload = payload[:end]
	}

	inquiry, ok := inquiryFromJSON(payload)
	if !ok {
		inquiry, ok = inquiryFromJSON(normalizeQuotes(payload))
	}
	if !ok {
		inquiry, ok = inquiryFromKeyValue(payload)
	}
	if !ok {
		return bare, true
	}
	return fmt.Sprintf("Invoking `%s` with \"%s\"", agent, inquiry), true
}

func (x *CaptionExtractor) firstLine(text string) string {
	text = strings.TrimSpace(text)
	if end := strings.IndexAny(text, "\r\n"); end >= 0 {
		text = text[:end]
	}
	return cutRunes(text, x.maxLength)
}

// stripFence unwraps the first fenced code block, dropping a language tag.
// Text without a fence is returned unchanged.
func stripFence(text string) string {
	start := strings.Index(text, fenceMarker)
	if start < 0 {
		return text
	}
	rest := text[start+len(fenceMarker):]

	if nl := strings.IndexByte(rest, '\n'); nl >= 0 && isLanguageTag(rest[:nl]) {
		rest = rest[nl+1:]
	}
	if end := strings.Index(rest, fenceMarker); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

func isLanguageTag(s string) bool {
	s = strings.TrimSpace(s)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_') {
			return false
		}
	}
	return true
}

// inquiryFromJSON reads inquiry/Inquiry from a JSON object. The value is
// returned exactly as embedded, whitespace included.
func inquiryFromJSON(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "{") {
		return "", false
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return "", false
	}
	for _, key := range []string{"inquiry", "Inquiry"} {
		if value, ok := fields[key].(string); ok {
			return value, true
		}
	}
	return "", false
}

// inquiryFromKeyValue finds an `inquiry: value` or `inquiry=value` fragment,
// matching the key case-insensitively. Quoted values run to the closing quote,
// bare values to the end of the line or the next ',' or '}'. Blanks between the
// separator and the value are skipped; the value itself is returned untrimmed.
func inquiryFromKeyValue(text string) (string, bool) {
	lower := asciiLower(text)
	from := 0
	for from < len(lower) {
		idx := strings.Index(lower[from:], inquiryKey)
		if idx < 0 {
			return "", false
		}
		pos := from + idx + len(inquiryKey)
		from = pos

		pos = skipAny(text, pos, "'\" \t")
		if pos >= len(text) || (text[pos] != ':' && text[pos] != '=') {
			continue
		}
		pos = skipAny(text, pos+1, " \t")
		if pos >= len(text) {
			continue
		}

		var value string
		if quote := text[pos]; quote == '"' || quote == '\'' {
			end := strings.IndexByte(text[pos+1:], quote)
			if end < 0 {
				value = text[pos+1:]
			} else {
				value = text[pos+1 : pos+1+end]
			}
		} else {
			end := strings.IndexAny(text[pos:], "\r\n,}")
			if end < 0 {
				end = len(text) - pos
			}
			value = text[pos : pos+end]
		}
		if strings.TrimSpace(value) != "" {
			return value, true
		}
	}
	return "", false
}

// normalizeQuotes rewrites single-quoted strings as double-quoted JSON strings
// in one pass, escaping embedded double quotes.
func normalizeQuotes(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))

	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote == 0 && (c == '\'' || c == '"'):
			quote = c
			sb.WriteByte('"')
		case quote != 0 && c == '\\' && i+1 < len(s):
			next := s[i+1]
			i++
			if quote == '\'' && next == '\'' {
				sb.WriteByte('\'')
				continue
			}
			sb.WriteByte('\\')
			sb.WriteByte(next)
		case quote != 0 && c == quote:
			quote = 0
			sb.WriteByte('"')
		case quote == '\'' && c == '"':
			sb.WriteString(`\"`)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

func skipAny(s string, pos int, chars string) int {
	for pos < len(s) && strings.IndexByte(chars, s[pos]) >= 0 {
		pos++
	}
	return pos
}

// asciiLower lowercases ASCII letters only, so byte offsets stay aligned with the input.
func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// isNumeric reports whether s is a number: an optional sign, then digits with
// at most one decimal point. Digits of any script count.
func isNumeric(s string) bool {
	if s != "" && (s[0] == '+' || s[0] == '-') {
		s = s[1:]
	}
	digits, dots := 0, 0
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == '.':
			dots++
		default:
			return false
		}
	}
	return digits > 0 && dots <= 1
}

// cutBytes shortens s to at most n bytes without splitting a rune.
func cutBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// cutRunes shortens s to at most n runes.
func cutRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
