package cardtrivia

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

const (
	questionEmbedColor = 0x5865F2
	correctEmbedColor  = 0x57F287
	wrongEmbedColor    = 0xED4245

	insufficientPoolMessage = "I couldn't find enough cards for a question right now, try again later!"
)

// interactionPresenter shows a question by editing the deferred
// interaction response, and offers answers as reactions on it
type interactionPresenter struct {
	handler   InteractionHandler
	channelID string
	timeout   time.Duration
}

func (p *interactionPresenter) PresentQuestion(
	ctx context.Context,
	q *Question,
	markers []string,
) (string, error) {
	embeds := []*discordgo.MessageEmbed{questionEmbed(q, markers, p.timeout)}
	msg, err := p.handler.Edit(ctx, &discordgo.WebhookEdit{Embeds: &embeds})
	if err != nil {
		return "", err
	}
	if msg == nil || msg.ID == "" {
		return "", errors.New("question message has no ID")
	}
	if msg.ChannelID != "" {
		p.channelID = msg.ChannelID
	}
	return msg.ID, nil
}

func (p *interactionPresenter) OfferMarkers(
	ctx context.Context,
	messageID string,
	markers []string,
) error {
	for _, m := range markers {
		if err := p.handler.React(ctx, p.channelID, messageID, m); err != nil {
			return err
		}
	}
	return nil
}

// handleTriviaCommand asks the user a question, waits for their answer
// and records the result against their streak.
func (d *CardTrivia) handleTriviaCommand(
	ctx context.Context,
	handler InteractionHandler,
	u *discordgo.User,
) {
	logger := handler.Logger()
	i := handler.GetInteraction()
	cfg := d.config.Trivia

	if ok, wait := d.cooldowns.Allow(u.ID); !ok {
		logger.InfoContext(ctx, "trivia on cooldown", "wait", wait)
		_ = handler.Respond(
			ctx, &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseChannelMessageWithSource,
				Data: &discordgo.InteractionResponseData{
					Content: fmt.Sprintf(
						"Slow down! You can play again in %s.",
						wait.Round(time.Second),
					),
					Flags: discordgo.MessageFlagsEphemeral,
				},
			},
		)
		return
	}

	if err := handler.Respond(ctx, ackResponse(DiscordSlashCommandTrivia)); err != nil {
		logger.ErrorContext(ctx, "error acknowledging interaction", tint.Err(err))
		d.cooldowns.Refund(u.ID)
		return
	}

	mode := QuestionModePool
	if opt, ok := discordInteractionOptions(i)[triviaArchetypeOption]; ok && opt.BoolValue() {
		mode = QuestionModeArchetype
	}

	buildCtx, buildCancel := context.WithTimeout(ctx, cfg.BuildTimeout)
	q, err := d.builder.Build(buildCtx, mode)
	buildCancel()
	if err != nil {
		logger.ErrorContext(ctx, "error building question", tint.Err(err), "mode", mode.String())
		d.cooldowns.Refund(u.ID)
		d.editContent(ctx, handler, d.userErrorMessage(err))
		return
	}
	logger = logger.With("question", q)
	logger.InfoContext(ctx, "built question")

	presenter := &interactionPresenter{
		handler:   handler,
		channelID: i.ChannelID,
		timeout:   cfg.AnswerTimeout,
	}
	outcome, err := d.collector.Collect(ctx, presenter, q, u.ID, cfg.AnswerTimeout)
	if err != nil {
		logger.ErrorContext(ctx, "error collecting answer", tint.Err(err))
		d.editContent(ctx, handler, d.config.Discord.ErrorMessage)
		return
	}
	logger.InfoContext(ctx, "question resolved", "outcome", outcome.Kind.String())

	if outcome.Kind == OutcomeTimedOut {
		d.editResult(ctx, handler, q, outcome, nil)
		return
	}

	record, err := d.store.RecordResult(ctx, u.ID, outcome.Kind == OutcomeCorrect)
	if err != nil {
		logger.ErrorContext(ctx, "error recording result", tint.Err(err))
		d.editResult(ctx, handler, q, outcome, nil)
		return
	}
	d.editResult(ctx, handler, q, outcome, &record)
}

// editResult updates the question message with how it ended. A nil
// record (when the answer couldn't be saved) shows no streak.
func (d *CardTrivia) editResult(
	ctx context.Context,
	handler InteractionHandler,
	q *Question,
	outcome AnswerOutcome,
	record *StreakRecord,
) {
	content := resultText(q, outcome, record)
	if record == nil && outcome.Kind != OutcomeTimedOut {
		content += "\n" + d.config.Discord.ErrorMessage
	}
	embeds := []*discordgo.MessageEmbed{resultEmbed(q, outcome)}
	_, _ = handler.Edit(
		context.WithoutCancel(ctx),
		&discordgo.WebhookEdit{Content: &content, Embeds: &embeds},
	)
}

func (*CardTrivia) editContent(ctx context.Context, handler InteractionHandler, content string) {
	_, _ = handler.Edit(
		context.WithoutCancel(ctx),
		&discordgo.WebhookEdit{Content: &content},
	)
}

func (d *CardTrivia) userErrorMessage(err error) string {
	if errors.Is(err, ErrInsufficientPool) {
		return insufficientPoolMessage
	}
	return d.config.Discord.ErrorMessage
}

func resultText(q *Question, outcome AnswerOutcome, record *StreakRecord) string {
	answer := q.Correct.Name
	var sb strings.Builder
	switch outcome.Kind {
	case OutcomeCorrect:
		_, _ = fmt.Fprintf(&sb, "Correct! It was **%s**.", answer)
	case OutcomeIncorrect:
		_, _ = fmt.Fprintf(&sb, "Wrong! You picked **%s**, it was **%s**.", outcome.Selected, answer)
	default:
		_, _ = fmt.Fprintf(&sb, "Time's up! It was **%s**.", answer)
	}
	if record != nil {
		_, _ = fmt.Fprintf(
			&sb,
			"\nStreak: %d (best: %d)",
			record.CurrentStreak,
			record.BestStreak,
		)
	}
	return sb.String()
}

func questionEmbed(q *Question, markers []string, timeout time.Duration) *discordgo.MessageEmbed {
	var choices strings.Builder
	for idx, name := range q.Choices {
		if idx < len(markers) {
			_, _ = fmt.Fprintf(&choices, "%s %s\n", markers[idx], name)
		}
	}
	embed := &discordgo.MessageEmbed{
		Title:       "Which card is this?",
		Description: q.RedactedDescription,
		Color:       questionEmbedColor,
		Fields:      itemFields(q.Correct),
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("React within %s to answer", timeout.Round(time.Second)),
		},
	}
	embed.Fields = append(
		embed.Fields,
		&discordgo.MessageEmbedField{
			Name:  "Choices",
			Value: strings.TrimRight(choices.String(), "\n"),
		},
	)
	return embed
}

func resultEmbed(q *Question, outcome AnswerOutcome) *discordgo.MessageEmbed {
	color := wrongEmbedColor
	if outcome.Kind == OutcomeCorrect {
		color = correctEmbedColor
	}
	embed := &discordgo.MessageEmbed{
		Title:       q.Correct.Name,
		Description: shortenString(q.Correct.Description, discordEmbedDescriptionLimit),
		Color:       color,
		Fields:      itemFields(q.Correct),
	}
	if q.Correct.ImageURL != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: q.Correct.ImageURL}
	}
	return embed
}

// discordEmbedDescriptionLimit is discord's cap on embed descriptions
const discordEmbedDescriptionLimit = 4096

// itemFields are the card's display attributes. None of them give
// away the name.
func itemFields(item Item) []*discordgo.MessageEmbedField {
	var fields []*discordgo.MessageEmbedField
	add := func(name, value string) {
		if value != "" {
			fields = append(
				fields,
				&discordgo.MessageEmbedField{Name: name, Value: value, Inline: true},
			)
		}
	}
	add("Type", item.Category)
	add("Attribute", item.Attribute)
	add("Race", item.Race)
	if item.Level != nil {
		add("Level", strconv.Itoa(*item.Level))
	}
	if item.ATK != nil {
		add("ATK", strconv.Itoa(*item.ATK))
	}
	if item.DEF != nil {
		add("DEF", strconv.Itoa(*item.DEF))
	}
	return fields
}

func (d *CardTrivia) handleStreakCommand(
	ctx context.Context,
	handler InteractionHandler,
	u *discordgo.User,
) {
	logger := handler.Logger()
	if err := handler.Respond(ctx, ackResponse(DiscordSlashCommandStreak)); err != nil {
		logger.ErrorContext(ctx, "error acknowledging interaction", tint.Err(err))
		return
	}
	record, err := d.store.GetStreak(ctx, u.ID)
	if err != nil {
		logger.ErrorContext(ctx, "error getting streak", tint.Err(err))
		d.editContent(ctx, handler, d.config.Discord.ErrorMessage)
		return
	}
	d.editContent(
		ctx,
		handler,
		fmt.Sprintf(
			"Your current streak is **%d** (best: **%d**)",
			record.CurrentStreak,
			record.BestStreak,
		),
	)
}

func (d *CardTrivia) handleLeaderboardCommand(
	ctx context.Context,
	handler InteractionHandler,
) {
	logger := handler.Logger()
	if err := handler.Respond(ctx, ackResponse(DiscordSlashCommandLeaderboard)); err != nil {
		logger.ErrorContext(ctx, "error acknowledging interaction", tint.Err(err))
		return
	}
	entries, err := d.leaderboard.TopByBestStreak(ctx, d.config.Trivia.LeaderboardSize)
	if err != nil {
		logger.ErrorContext(ctx, "error getting leaderboard", tint.Err(err))
		d.editContent(ctx, handler, d.config.Discord.ErrorMessage)
		return
	}
	d.leaderboard.Resolve(ctx, entries)
	logger.DebugContext(ctx, "resolved leaderboard", slog.Int("entries", len(entries)))
	d.editContent(ctx, handler, renderLeaderboard(entries))
}

func (*CardTrivia) handleHelpCommand(ctx context.Context, handler InteractionHandler) {
	_ = handler.Respond(
		ctx, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: helpText(),
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		},
	)
}
