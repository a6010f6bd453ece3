package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTimestampStr(t *testing.T) {
	tests := []struct {
		name string
		ns   uint64
		want string
	}{
		{"zero", 0, "0 00:00:00.000"},
		{"sub-millisecond truncates", 999_999, "0 00:00:00.000"},
		{"milliseconds", 250_000_000, "0 00:00:00.250"},
		{"ninety seconds", 90_250_000_000, "0 00:01:30.250"},
		{"one hour", 3_600_000_000_000, "0 01:00:00.000"},
		{"multi day", 2*86_400_000_000_000 + 3_723_000_000_000, "2 01:02:03.000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TimestampStr(tt.ns))
		})
	}
}

func TestEscapeASCII(t *testing.T) {
	assert.Equal(t, "kworker/0:1", EscapeASCII("kworker/0:1", false))
	assert.Equal(t, "bad\\x01comm", EscapeASCII("bad\x01comm", false))
	assert.Equal(t, "a\\x7fb", EscapeASCII("a\x7fb", false))
	assert.Equal(t, `a\b`, EscapeASCII(`a\b`, false))
	assert.Equal(t, `a\\b`, EscapeASCII(`a\b`, true))
}

func TestCPUColumn(t *testing.T) {
	assert.Equal(t, "3", CPUColumn(3, true))
	assert.Equal(t, "-", CPUColumn(0, false))
}

func TestHex(t *testing.T) {
	assert.Equal(t, "ffff8881234560", Hex(0xffff8881234560))
}
