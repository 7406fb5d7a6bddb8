package cardtrivia

import (
	"context"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
	"testing"
)

func TestShortenString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		limit    int
		expected string
	}{
		{name: "fits", input: "Kuriboh", limit: 10, expected: "Kuriboh"},
		{name: "exact", input: "Kuriboh", limit: 7, expected: "Kuriboh"},
		{name: "cut", input: "Dark Magician", limit: 6, expected: "Dark…"},
		{name: "one", input: "Jinzo", limit: 1, expected: "…"},
		{name: "zero", input: "Jinzo", limit: 0, expected: ""},
		{name: "multibyte", input: "ブラック・マジシャン", limit: 4, expected: "ブラッ…"},
	}
	for _, tc := range tests {
		t.Run(
			tc.name, func(t *testing.T) {
				t.Parallel()
				assert.Equal(t, tc.expected, shortenString(tc.input, tc.limit))
			},
		)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Kuri", truncate("Kuriboh", 4))
	assert.Equal(t, "Kuriboh", truncate("Kuriboh", 40))
	assert.Equal(t, "ブラ", truncate("ブラック", 2))
}

type redactedThing struct {
	Name   string `json:"name"`
	Secret string `json:"secret" log:"[redacted]"`
	Empty  string `json:"empty"`
	Nested *struct {
		Count int `json:"count"`
	} `json:"nested"`
	hidden string
}

func TestStructToSlogValue(t *testing.T) {
	t.Parallel()
	v := structToSlogValue(
		&redactedThing{
			Name:   "thing",
			Secret: "hunter2",
			hidden: "x",
		},
	)
	require.Equal(t, slog.KindGroup, v.Kind())

	attrs := map[string]string{}
	for _, a := range v.Group() {
		attrs[a.Key] = a.Value.String()
	}
	assert.Equal(
		t,
		map[string]string{
			"name":   "thing",
			"secret": "[redacted]",
		},
		attrs,
	)

	var nilThing *redactedThing
	assert.Equal(t, slog.KindAny, structToSlogValue(nilThing).Kind())
	assert.Equal(t, int64(5), structToSlogValue(5).Int64())
}

func TestContextLogger(t *testing.T) {
	t.Parallel()
	_, ok := ContextLogger(context.Background())
	assert.False(t, ok)

	logger := slog.Default().With("k", "v")
	got, ok := ContextLogger(WithLogger(context.Background(), logger))
	require.True(t, ok)
	assert.Same(t, logger, got)

	got, ok = ContextLogger(WithLogger(context.Background(), nil))
	require.True(t, ok)
	assert.NotNil(t, got)
}

func TestGetDiscordUser(t *testing.T) {
	t.Parallel()
	user := &discordgo.User{ID: "direct"}
	member := &discordgo.User{ID: "member"}

	i := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{User: user}}
	assert.Same(t, user, getDiscordUser(i))

	i = &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{Member: &discordgo.Member{User: member}},
	}
	assert.Same(t, member, getDiscordUser(i))

	i = &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{}}
	assert.Nil(t, getDiscordUser(i))
}
