package cardtrivia

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

var (
	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

// CardTrivia is the bot: it owns the content source, question builder,
// answer collector and streak store, and wires them to discord and the API.
type CardTrivia struct {
	config *Config

	// Standard logger. Missing loggers will try to use this,
	// and fall back to slog.Default()
	logger *slog.Logger

	content     ContentSource
	builder     *QuestionBuilder
	collector   *AnswerCollector
	store       StreakStore
	leaderboard *Leaderboard
	cooldowns   *userCooldowns

	discord *Discord
	api     *API

	// signalReady has a value sent on it once Run has opened the store,
	// connected to discord and registered commands
	signalReady chan struct{}

	// prevents Run from executing concurrently
	runMu sync.Mutex

	// triviaInProgress is the number of /trivia commands being handled
	triviaInProgress atomic.Int64

	// stopping is set once shutdown starts. New interactions are
	// ignored, while questions already asked can still be answered.
	stopping atomic.Bool

	// getInteractionHandlerFunc returns the InteractionHandler for an
	// incoming interaction. Tests swap this out to capture responses.
	getInteractionHandlerFunc func(
		ctx context.Context,
		i *discordgo.InteractionCreate,
	) InteractionHandler
}

// New creates a CardTrivia from config. Connections (database/redis,
// discord, the API listener) aren't opened until Run.
func New(config *Config) (*CardTrivia, error) {
	if config == nil {
		return nil, errors.New("nil config")
	}
	var errs []error

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	d := &CardTrivia{
		config:      config,
		signalReady: make(chan struct{}, 1),
	}

	d.logger = slog.New(newLogHandler(config.LogLevel))
	slog.SetDefault(d.logger)

	d.collector = NewAnswerCollector(d.logger.With(loggerNameKey, "collector"))

	if config.Trivia == nil {
		errs = append(errs, errors.New("nil trivia config"))
	} else {
		d.cooldowns = newUserCooldowns(config.Trivia.Cooldown)
	}

	if config.Content == nil {
		errs = append(errs, errors.New("nil content config"))
	} else {
		contentLogger := newComponentLogger(config.Content.LogLevel, "content")
		source, err := NewYGOProDeck(config.Content, config.HTTPClient, contentLogger)
		if err != nil {
			errs = append(errs, err)
		} else {
			d.content = newCachedContentSource(source, config.Content.CacheTTL, contentLogger)
			descriptionLimit := 0
			if config.Trivia != nil {
				descriptionLimit = config.Trivia.DescriptionLimit
			}
			d.builder = NewQuestionBuilder(d.content, nil, descriptionLimit)
		}
	}

	if config.Discord == nil {
		errs = append(errs, errors.New("nil discord config"))
	} else {
		config.Discord.httpClient = config.HTTPClient
		discordgo.Logger = discordgoLoggerFunc(
			context.Background(),
			newLogHandler(config.Discord.DiscordGoLogLevel).WithAttrs(
				[]slog.Attr{slog.String(loggerNameKey, "discordgo")},
			),
		)
		disc, err := newDiscord(
			config.Discord,
			newComponentLogger(config.Discord.LogLevel, "discord"),
		)
		if err != nil {
			errs = append(errs, err)
		}
		d.discord = disc
	}

	if config.API != nil && config.API.Enabled {
		api, err := newAPI(d, config.API)
		errs = append(errs, err)
		d.api = api
	}

	d.getInteractionHandlerFunc = func(
		_ context.Context,
		i *discordgo.InteractionCreate,
	) InteractionHandler {
		return GatewayHandler{
			session:     d.discord.session,
			interaction: i,
			logger: d.discord.logger.With(
				slog.Group("interaction", interactionLogAttrs(*i)...),
			),
		}
	}

	return d, errors.Join(errs...)
}

func (d *CardTrivia) ValidateConfig() error {
	return validateConfig(d.config)
}

// OpenStreakStore opens the streak store selected by
// [Config.StreakBackend], migrating the database schema if needed.
func OpenStreakStore(ctx context.Context, config *Config) (StreakStore, error) {
	switch config.StreakBackend {
	case streakBackendRedis:
		return NewRedisStreakStore(
			ctx,
			config.Redis,
			newComponentLogger(config.LogLevel, "streak_store"),
		)
	case streakBackendDatabase, "":
		db, err := CreateDB(
			ctx,
			config.DatabaseType,
			config.Database,
			newLogHandler(config.DatabaseLogLevel),
			config.DatabaseSlowThreshold,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		return NewDatabaseStreakStore(
			db,
			newComponentLogger(config.LogLevel, "streak_store"),
		), nil
	default:
		return nil, fmt.Errorf("unsupported streak backend: %q", config.StreakBackend)
	}
}

// Run opens the streak store, connects to discord, registers commands
// and serves the API (if enabled), then handles interactions until ctx
// is cancelled.
func (d *CardTrivia) Run(ctx context.Context) error {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	logger := d.logger
	if err := d.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}
	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", d.config))

	startCtx, startCancel := context.WithTimeout(ctx, d.config.StartupTimeout)
	defer startCancel()

	if err := d.initRun(startCtx); err != nil {
		logger.ErrorContext(ctx, "init error", tint.Err(err))
		d.closeStore(ctx)
		return err
	}
	startCancel()

	runtimeWG := &sync.WaitGroup{}
	if err := d.initDiscordSession(ctx, runtimeWG); err != nil {
		d.closeStore(ctx)
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if d.api != nil {
		g.Go(
			func() error {
				err := d.api.Serve(gctx)
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("error serving api: %w", err)
				}
				return nil
			},
		)
	}

	logger.InfoContext(ctx, "connecting to discord")
	if err := d.discord.session.Open(); err != nil {
		logger.ErrorContext(ctx, "error connecting to discord!", tint.Err(err))
		_ = d.shutdown(ctx, runtimeWG)
		_ = g.Wait()
		return fmt.Errorf("error connecting to discord: %w", err)
	}
	if _, err := d.discord.registerCommands(); err != nil {
		_ = d.shutdown(ctx, runtimeWG)
		_ = g.Wait()
		return fmt.Errorf("error registering commands: %w", err)
	}
	if status := d.config.Discord.CustomStatus; status != "" {
		if err := d.discord.session.UpdateCustomStatus(status); err != nil {
			logger.ErrorContext(ctx, "error updating discord status", tint.Err(err))
		}
	}

	select {
	case d.signalReady <- struct{}{}:
	default:
	}
	logger.InfoContext(ctx, "ready")

	// block until the runtime context is cancelled (generally an
	// interrupt), or the API fails
	<-gctx.Done()

	shutdownErr := d.shutdown(ctx, runtimeWG)
	return errors.Join(g.Wait(), shutdownErr)
}

// initRun opens the streak store, unless one was already set
func (d *CardTrivia) initRun(ctx context.Context) error {
	if d.store == nil {
		store, err := OpenStreakStore(ctx, d.config)
		if err != nil {
			return err
		}
		d.store = store
	}
	if d.leaderboard == nil {
		d.leaderboard = NewLeaderboard(
			d.store,
			d.discord,
			d.logger.With(loggerNameKey, "leaderboard"),
		)
	}
	return nil
}

// initDiscordSession creates the session (if needed) and adds the
// gateway handlers. Interactions are each handled on their own goroutine,
// tracked by runtimeWG. They aren't cancelled along with ctx, so
// shutdown can let open questions finish.
func (d *CardTrivia) initDiscordSession(
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
) error {
	handlerCtx := context.WithoutCancel(ctx)
	if d.discord.session == nil {
		session, err := d.discord.newSession()
		if err != nil {
			return fmt.Errorf("error creating discord session: %w", err)
		}
		d.discord.session = session
	}

	for _, h := range d.discord.discordgoRemoveHandlerFuncs {
		h()
	}

	d.discord.session.SetIdentify(
		discordgo.Identify{
			Intents: d.config.Discord.GatewayIntents,
			Presence: discordgo.GatewayStatusUpdate{
				Status: string(discordgo.StatusOnline),
			},
		},
	)

	d.discord.discordgoRemoveHandlerFuncs = []func(){
		d.discord.session.AddHandler(d.discord.handlerConnect()),
		d.discord.session.AddHandler(d.discord.handlerDisconnect()),
		d.discord.session.AddHandler(d.discord.handlerReady()),
		d.discord.session.AddHandler(
			func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
				if d.stopping.Load() {
					d.logger.WarnContext(ctx, "shutting down, ignoring interaction", "id", i.ID)
					return
				}
				handler := d.getInteractionHandlerFunc(handlerCtx, i)
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					d.handleInteraction(handlerCtx, handler)
				}()
			},
		),
		d.discord.session.AddHandler(
			func(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
				d.handleReaction(handlerCtx, r)
			},
		),
	}
	return nil
}

// handleReaction feeds a reaction to the answer collector
func (d *CardTrivia) handleReaction(ctx context.Context, r *discordgo.MessageReactionAdd) {
	ev, ok := reactionAnswerEvent(r)
	if !ok {
		return
	}
	if d.collector.Dispatch(ev) {
		d.logger.DebugContext(
			ctx,
			"answer received",
			"message_id", ev.MessageID,
			"responder_id", ev.ResponderID,
			"marker", ev.Marker,
		)
	}
}

// shutdown stops the API and discord session, waiting up to
// ShutdownTimeout for in-flight interactions to finish before closing
// the streak store.
func (d *CardTrivia) shutdown(ctx context.Context, runtimeWG *sync.WaitGroup) error {
	d.stopping.Store(true)
	d.logger.WarnContext(ctx, "shutting down")
	shutdownStart := time.Now()

	closeCtx, closeCancel := context.WithTimeout(
		context.WithoutCancel(ctx),
		d.config.ShutdownTimeout,
	)
	defer closeCancel()

	var errs []error
	if d.api != nil && d.api.httpServer != nil {
		d.logger.InfoContext(ctx, "stopping http server")
		if err := d.api.httpServer.Shutdown(closeCtx); err != nil {
			errs = append(errs, fmt.Errorf("error stopping http server: %w", err))
		}
	}

	done := make(chan struct{})
	go func() {
		runtimeWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.logger.InfoContext(
			ctx,
			"finished handling in-flight interactions",
			"duration", time.Since(shutdownStart),
		)
	case <-closeCtx.Done():
		errs = append(errs, errors.New("in-flight interactions did not finish in time"))
	}

	if d.discord != nil && d.discord.session != nil {
		for _, h := range d.discord.discordgoRemoveHandlerFuncs {
			h()
		}
		d.discord.discordgoRemoveHandlerFuncs = []func(){}
		d.logger.InfoContext(ctx, "closing discord session")
		if err := d.discord.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing discord session: %w", err))
		}
	}
	d.closeStore(ctx)
	return errors.Join(errs...)
}

func (d *CardTrivia) closeStore(ctx context.Context) {
	if d.store == nil {
		return
	}
	if err := d.store.Close(); err != nil {
		d.logger.ErrorContext(ctx, "error closing streak store", tint.Err(err))
	}
}

// handleInteraction routes an interaction to its command. Panics are
// recovered and logged, so one bad interaction doesn't take down the bot.
func (d *CardTrivia) handleInteraction(ctx context.Context, handler InteractionHandler) {
	i := handler.GetInteraction()
	logger := handler.Logger()
	ctx = WithLogger(ctx, logger)

	defer func() {
		if rc := recover(); rc != nil {
			d.handleRecover(ctx, rc)
		}
	}()

	discordUser := getDiscordUser(i)
	if discordUser == nil {
		logger.ErrorContext(ctx, "no user found in interaction")
		return
	}
	logger = logger.With(slog.Group("user", userLogAttrs(*discordUser)...))
	ctx = WithLogger(ctx, logger)
	logger.InfoContext(ctx, "received new interaction")

	if discordUser.Bot {
		logger.WarnContext(ctx, "user is bot, ignoring")
		return
	}

	switch i.Type {
	case discordgo.InteractionPing:
		_ = handler.Respond(
			ctx, &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponsePong,
			},
		)
	case discordgo.InteractionApplicationCommand:
		commandName := i.ApplicationCommandData().Name
		switch commandName {
		case DiscordSlashCommandTrivia:
			d.triviaInProgress.Add(1)
			defer d.triviaInProgress.Add(-1)
			d.handleTriviaCommand(ctx, handler, discordUser)
		case DiscordSlashCommandStreak:
			d.handleStreakCommand(ctx, handler, discordUser)
		case DiscordSlashCommandLeaderboard:
			d.handleLeaderboardCommand(ctx, handler)
		case DiscordSlashCommandHelp:
			d.handleHelpCommand(ctx, handler)
		default:
			logger.WarnContext(ctx, "unknown command", "command", commandName)
		}
	default:
		logger.WarnContext(ctx, "unhandled interaction type")
	}
}

// handleRecover logs a recovered panic with its stack trace
func (*CardTrivia) handleRecover(ctx context.Context, rc any) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = slog.Default()
	}
	stackTrace := string(debug.Stack())
	switch v := rc.(type) {
	case error:
		logger.ErrorContext(ctx, "recovered from panic", tint.Err(v), "stack_trace", stackTrace)
	case string:
		logger.ErrorContext(
			ctx,
			"recovered from panic",
			tint.Err(errors.New(v)),
			"stack_trace", stackTrace,
		)
	default:
		logger.ErrorContext(ctx, "recovered from panic", "panic_arg", rc, "stack_trace", stackTrace)
	}
}
