// Package format holds the shared text-rendering helpers used by every
// diagnostic module: elapsed-time rendering, ASCII escaping for strings read
// out of kernel memory, and placeholder handling for absent columns.
package format

import (
	"fmt"
	"strconv"
)

// Placeholder fills a column whose value does not apply to this row, such as
// the hardware-queue address of a single-queue request.
const Placeholder = "-"

// TimestampStr renders a nanosecond duration in crash-style
// "days HH:MM:SS.mmm" form, e.g. "0 00:01:30.250".
func TimestampStr(ns uint64) string {
	ms := ns / 1_000_000
	msPart := ms % 1000
	secs := ms / 1000
	days := secs / 86400
	secs %= 86400
	hours := secs / 3600
	secs %= 3600
	mins := secs / 60
	secs %= 60
	return fmt.Sprintf("%d %02d:%02d:%02d.%03d", days, hours, mins, secs, msPart)
}

// EscapeASCII renders a string pulled out of kernel memory safely: printable
// ASCII passes through, everything else becomes a \xNN escape. When
// escapeBackslash is set, literal backslashes are doubled so escapes stay
// unambiguous.
func EscapeASCII(s string, escapeBackslash bool) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		b := s[i]
		switch {
		case b == '\\' && escapeBackslash:
			out = append(out, '\\', '\\')
		case b >= 0x20 && b <= 0x7e:
			out = append(out, b)
		default:
			out = append(out, fmt.Sprintf("\\x%02x", b)...)
		}
	}
	return string(out)
}

// Hex renders an address as bare lowercase hex, the way kernel reports print
// pointer columns.
func Hex(addr uint64) string {
	return strconv.FormatUint(addr, 16)
}

// CPUColumn renders an issuing-CPU column, or the placeholder when the
// request never recorded one.
func CPUColumn(cpu int, ok bool) string {
	if !ok {
		return Placeholder
	}
	return strconv.Itoa(cpu)
}
