package bmp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnquoteMI(t *testing.T) {
	cases := map[string]string{
		`"hello"`:              "hello",
		`"line one\nline two"`: "line one\nline two",
		`"a\\b"`:               `a\b`,
		`"tab\there"`:          "tab\there",
		`""`:                   "",
	}
	for in, want := range cases {
		assert.Equal(t, want, unquoteMI(in))
	}
}

func TestFieldExtractsQuotedValue(t *testing.T) {
	payload := `addr="0x08000000",contents="deadbeef"`
	v, ok := field(payload, "contents")
	assert.True(t, ok)
	assert.Equal(t, "deadbeef", v)

	v, ok = field(payload, "addr")
	assert.True(t, ok)
	assert.Equal(t, "0x08000000", v)
}

func TestFieldMissingKey(t *testing.T) {
	_, ok := field(`addr="0x0"`, "contents")
	assert.False(t, ok)
}
