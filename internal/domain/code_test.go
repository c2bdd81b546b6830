package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateRoomCode(t *testing.T) {
	for i := 0; i < 10000; i++ {
		code := GenerateRoomCode()
		assert.Len(t, code, RoomCodeLength)
		for _, ch := range code {
			assert.True(t, strings.ContainsRune(RoomCodeAlphabet, ch), "unexpected character %q in %s", ch, code)
		}
	}
}

func TestGenerateRoomCodeVaries(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		seen[GenerateRoomCode()] = struct{}{}
	}
	assert.Greater(t, len(seen), 990)
}
