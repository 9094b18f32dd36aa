package tigard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMdwWords(t *testing.T) {
	resp := "0x20000000: 12345678 9abcdef0"
	data := parseMdwWords(resp, 8)
	assert.Equal(t, []byte{0x78, 0x56, 0x34, 0x12, 0xf0, 0xde, 0xbc, 0x9a}, data)
}

func TestParseMdwWordsTruncatesToRequestedSize(t *testing.T) {
	resp := "0x20000000: 12345678 9abcdef0"
	data := parseMdwWords(resp, 6)
	assert.Len(t, data, 6)
}

func TestParseRegistersBothOutputShapes(t *testing.T) {
	resp := "r0 (/32): 0x00000001\nr1: 0x00000002\n===== arm v7m registers\npc (/32): 0x08000100"
	regs := parseRegisters(resp)
	assert.Equal(t, uint32(1), regs["r0"])
	assert.Equal(t, uint32(2), regs["r1"])
	assert.Equal(t, uint32(0x08000100), regs["pc"])
	assert.NotContains(t, regs, "=====")
}
