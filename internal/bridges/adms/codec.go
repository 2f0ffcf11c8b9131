package adms

import (
	"strconv"
	"strings"
)

// Field separators used on the wire.
const (
	// TabSeparator separates fields in table rows (querydata, DATA UPDATE).
	TabSeparator = "\t"

	// ReplySeparator separates fields in devicecmd reply lines.
	ReplySeparator = "&"

	// OptionSeparator separates entries in an option list.
	OptionSeparator = ","

	// lineBreak joins lines sent to the device.
	lineBreak = "\r\n"
)

// Fields is a decoded key/value record. Keys are kept exactly as the
// device sent them.
type Fields map[string]string

// Get returns the value for key, or "" when absent.
func (f Fields) Get(key string) string {
	return f[key]
}

// Int returns the value for key parsed as a base-10 integer. Absent or
// malformed values yield 0; device firmware is inconsistent enough that a
// single bad column must not reject the whole row.
func (f Fields) Int(key string) int {
	v, err := strconv.Atoi(strings.TrimSpace(f[key]))
	if err != nil {
		return 0
	}
	return v
}

// Int64 is Int for 64-bit values.
func (f Fields) Int64(key string) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(f[key]), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// Bool reports whether the value for key is a non-zero integer or "true".
func (f Fields) Bool(key string) bool {
	v := strings.TrimSpace(f[key])
	if strings.EqualFold(v, "true") {
		return true
	}
	return f.Int(key) != 0
}

// SplitLines splits text on CR and LF and drops blank lines.
func SplitLines(text string) []string {
	raw := strings.FieldsFunc(text, func(r rune) bool {
		return r == '\r' || r == '\n'
	})
	lines := raw[:0]
	for _, line := range raw {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// DecodeFields decodes one line of sep-separated key=value tokens.
//
// Tokens are split on the first "=" only, so values may themselves
// contain "=". Tokens with no "=" are dropped. A blank line yields an
// empty map.
//
// Example:
//
//	DecodeFields("ID=1&Return=0&CMD=DATA", "&")
//	// Fields{"ID": "1", "Return": "0", "CMD": "DATA"}
func DecodeFields(line, sep string) Fields {
	fields := Fields{}
	if strings.TrimSpace(line) == "" {
		return fields
	}
	for _, token := range strings.Split(line, sep) {
		key, value, ok := strings.Cut(token, "=")
		if !ok {
			continue
		}
		fields[key] = value
	}
	return fields
}

// DecodeOptions decodes an option list such as
// "~DeviceName=X,FirmVer=Y". Every "~" is removed before splitting.
func DecodeOptions(line string) Fields {
	return DecodeFields(strings.ReplaceAll(line, "~", ""), OptionSeparator)
}

// DecodeOptionLines decodes a multi-line option response into a single
// map. Later keys win.
func DecodeOptionLines(text string) Fields {
	out := Fields{}
	for _, line := range SplitLines(text) {
		for k, v := range DecodeOptions(line) {
			out[k] = v
		}
	}
	return out
}

// DecodeReplies decodes a devicecmd body: one "&"-separated record per
// non-blank line.
func DecodeReplies(text string) []Fields {
	lines := SplitLines(text)
	replies := make([]Fields, 0, len(lines))
	for _, line := range lines {
		replies = append(replies, DecodeFields(line, ReplySeparator))
	}
	return replies
}

// DecodeRows decodes a querydata body: one tab-separated record per
// non-blank line.
func DecodeRows(text string) []Fields {
	lines := SplitLines(text)
	rows := make([]Fields, 0, len(lines))
	for _, line := range lines {
		rows = append(rows, DecodeFields(line, TabSeparator))
	}
	return rows
}

// StripTablePrefix removes the "<table> " prefix the firmware puts in
// front of the first key of a data row ("transaction cardno=...").
// Matching is case-insensitive. Keys without the prefix are untouched.
func StripTablePrefix(table string, fields Fields) Fields {
	prefix := strings.ToLower(table) + " "
	out := make(Fields, len(fields))
	for k, v := range fields {
		if len(k) > len(prefix) && strings.ToLower(k[:len(prefix)]) == prefix {
			k = k[len(prefix):]
		}
		out[k] = v
	}
	return out
}

// EncodeFields renders pairs as a tab-separated key=value list in the
// given order.
func EncodeFields(pairs ...[2]string) string {
	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteString(TabSeparator)
		}
		b.WriteString(p[0])
		b.WriteByte('=')
		b.WriteString(p[1])
	}
	return b.String()
}

// EncodeUpdate renders one record as a numbered DATA UPDATE command line.
//
// Example:
//
//	EncodeUpdate(1, User{Pin: "1", Name: "Ana"})
//	// "C:1:DATA UPDATE user pin=1\tname=Ana\t..."
func EncodeUpdate(index int, record Record) string {
	return "C:" + strconv.Itoa(index) + ":DATA UPDATE " + record.TableName() + " " + record.ToProtocol()
}

// EncodeBatch renders records as CRLF-joined DATA UPDATE lines numbered
// from 1 in input order. An empty batch renders as "".
func EncodeBatch[R Record](records []R) string {
	lines := make([]string, len(records))
	for i, r := range records {
		lines[i] = EncodeUpdate(i+1, r)
	}
	return strings.Join(lines, lineBreak)
}

// EncodeCommand renders a single command line with the given id.
func EncodeCommand(id int, body string) string {
	return "C:" + strconv.Itoa(id) + ":" + body
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
