package commands_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdobrica/kaiwa/internal/kaiwa/commands"
)

func TestParseCommand_Basic(t *testing.T) {
	router := commands.NewRouter("/")

	tests := []struct {
		input    string
		wantName string
		wantText string
		wantArgs []string
		wantErr  error
	}{
		{input: "/help", wantName: "help", wantArgs: []string{}},
		{input: "  /HELP  ", wantName: "help", wantArgs: []string{}},
		{input: "/temperature 0.5", wantName: "temperature", wantText: "0.5", wantArgs: []string{"0.5"}},
		{input: "/system You are   a pirate.", wantName: "system", wantText: "You are   a pirate.", wantArgs: []string{"You", "are", "a", "pirate."}},
		{input: "/chat\nmulti\nline", wantName: "chat", wantText: "multi\nline", wantArgs: []string{"multi", "line"}},
		{input: "/addnote　お茶", wantName: "addnote", wantText: "お茶", wantArgs: []string{"お茶"}},
		{input: "not a command", wantErr: commands.ErrNotACommand},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			cmd, err := router.Parse(tt.input)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, cmd.Name)
			assert.Equal(t, tt.wantText, cmd.Text)
			if len(tt.wantArgs) == 0 {
				assert.Empty(t, cmd.Args)
			} else {
				assert.Equal(t, tt.wantArgs, cmd.Args)
			}
		})
	}
}

func TestParseCommand_Empty(t *testing.T) {
	router := commands.NewRouter("/")
	for _, input := range []string{"/", "/ help"} {
		_, err := router.Parse(input)
		require.Error(t, err, input)
		assert.False(t, errors.Is(err, commands.ErrNotACommand), input)
	}
}

func TestRouter_Dispatch(t *testing.T) {
	router := commands.NewRouter("!")
	router.Register("Ping", func(ctx context.Context, cmd *commands.Command, msg *commands.Message) (string, error) {
		return "pong " + cmd.Text, nil
	})

	reply, err := router.Route(context.Background(), "!ping there", &commands.Message{})
	require.NoError(t, err)
	assert.Equal(t, "pong there", reply)

	_, err = router.Route(context.Background(), "!pong", &commands.Message{})
	assert.ErrorIs(t, err, commands.ErrUnknownCommand)

	assert.Equal(t, []string{"ping"}, router.Commands())
}

func TestCommand_GetArg(t *testing.T) {
	cmd := &commands.Command{Args: []string{"a", "b"}}

	v, ok := cmd.GetArg(1)
	assert.True(t, ok)
	assert.Equal(t, "b", v)

	_, ok = cmd.GetArg(2)
	assert.False(t, ok)
	_, ok = cmd.GetArg(-1)
	assert.False(t, ok)
}
