package cardtrivia

import (
	"fmt"
	"github.com/bwmarrin/discordgo"
	"strings"
)

const (
	DiscordSlashCommandTrivia      = "trivia"
	DiscordSlashCommandStreak      = "streak"
	DiscordSlashCommandLeaderboard = "leaderboard"
	DiscordSlashCommandHelp        = "help"

	// triviaArchetypeOption asks for distractors from the same archetype
	triviaArchetypeOption = "archetype"
)

// commandCategory groups commands in /help
type commandCategory int

const (
	commandCategoryGame commandCategory = iota
	commandCategoryInfo
)

func (c commandCategory) String() string {
	switch c {
	case commandCategoryGame:
		return "Game"
	case commandCategoryInfo:
		return "Info"
	default:
		return fmt.Sprintf("commandCategory(%d)", int(c))
	}
}

type commandSpec struct {
	Name        string
	Description string
	Category    commandCategory

	// Ephemeral responses are only shown to the user who ran the command
	Ephemeral bool
	Options   []*discordgo.ApplicationCommandOption
}

// commandRegistry lists every slash command, in /help order
var commandRegistry = []commandSpec{
	{
		Name:        DiscordSlashCommandTrivia,
		Description: "Guess the card from its (redacted) text",
		Category:    commandCategoryGame,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionBoolean,
				Name:        triviaArchetypeOption,
				Description: "Pick the wrong answers from the card's own archetype",
				Required:    false,
			},
		},
	},
	{
		Name:        DiscordSlashCommandStreak,
		Description: "Show your current and best streak",
		Category:    commandCategoryGame,
		Ephemeral:   true,
	},
	{
		Name:        DiscordSlashCommandLeaderboard,
		Description: "Show the best streaks",
		Category:    commandCategoryGame,
	},
	{
		Name:        DiscordSlashCommandHelp,
		Description: "List commands",
		Category:    commandCategoryInfo,
		Ephemeral:   true,
	},
}

var commandsByName = indexCommands(commandRegistry)

func indexCommands(specs []commandSpec) map[string]commandSpec {
	m := make(map[string]commandSpec, len(specs))
	for _, s := range specs {
		if _, exists := m[s.Name]; exists {
			panic("duplicate command: " + s.Name)
		}
		m[s.Name] = s
	}
	return m
}

func lookupCommand(name string) (commandSpec, bool) {
	s, ok := commandsByName[name]
	return s, ok
}

// applicationCommands returns the commands to register with discord
func applicationCommands() []*discordgo.ApplicationCommand {
	// usable in DMs with the bot as well as in guilds
	dmPermission := true

	commands := make([]*discordgo.ApplicationCommand, 0, len(commandRegistry))
	for _, s := range commandRegistry {
		commands = append(
			commands,
			&discordgo.ApplicationCommand{
				Name:         s.Name,
				Description:  s.Description,
				Type:         discordgo.ChatApplicationCommand,
				DMPermission: &dmPermission,
				Options:      s.Options,
			},
		)
	}
	return commands
}

// ackResponse is the deferred response sent while a command is worked on
func ackResponse(commandName string) *discordgo.InteractionResponse {
	var flags discordgo.MessageFlags
	if s, ok := lookupCommand(commandName); ok && s.Ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: flags},
	}
}

// helpText lists the commands, grouped by category
func helpText() string {
	var sb strings.Builder
	current := commandCategory(-1)
	for _, s := range commandRegistry {
		if s.Category != current {
			if current >= 0 {
				sb.WriteString("\n")
			}
			current = s.Category
			_, _ = fmt.Fprintf(&sb, "**%s**\n", current)
		}
		_, _ = fmt.Fprintf(&sb, "`/%s` %s\n", s.Name, s.Description)
	}
	return strings.TrimRight(sb.String(), "\n")
}
