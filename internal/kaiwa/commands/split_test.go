package commands_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/bdobrica/kaiwa/internal/kaiwa/commands"
)

func TestSplitReply(t *testing.T) {
	assert.Nil(t, commands.SplitReply("   ", 10))
	assert.Equal(t, []string{"short"}, commands.SplitReply("short", 10))
	assert.Equal(t, []string{"no limit"}, commands.SplitReply("no limit", 0))

	t.Run("LineBoundaries", func(t *testing.T) {
		got := commands.SplitReply("aaaa\nbbbb\ncccc", 10)
		assert.Equal(t, []string{"aaaa\nbbbb", "cccc"}, got)
	})

	t.Run("LongLine", func(t *testing.T) {
		got := commands.SplitReply(strings.Repeat("x", 25), 10)
		assert.Equal(t, []string{strings.Repeat("x", 10), strings.Repeat("x", 10), strings.Repeat("x", 5)}, got)
	})

	t.Run("CountsRunes", func(t *testing.T) {
		text := strings.Repeat("会話", 7)
		got := commands.SplitReply(text, 5)
		assert.Equal(t, text, strings.Join(got, ""))
		for _, c := range got {
			assert.LessOrEqual(t, utf8.RuneCountInString(c), 5)
			assert.True(t, utf8.ValidString(c))
		}
	})
}
