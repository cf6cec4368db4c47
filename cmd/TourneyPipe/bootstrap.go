package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/TourneyPipe/internal/announce"
	"github.com/BTreeMap/TourneyPipe/internal/api"
	"github.com/BTreeMap/TourneyPipe/internal/audit"
	"github.com/BTreeMap/TourneyPipe/internal/flow"
	"github.com/BTreeMap/TourneyPipe/internal/genai"
	"github.com/BTreeMap/TourneyPipe/internal/lockfile"
	"github.com/BTreeMap/TourneyPipe/internal/messaging"
	"github.com/BTreeMap/TourneyPipe/internal/recovery"
	"github.com/BTreeMap/TourneyPipe/internal/scheduler"
	"github.com/BTreeMap/TourneyPipe/internal/store"
	"github.com/BTreeMap/TourneyPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/TourneyPipe/internal/util"
	"github.com/BTreeMap/TourneyPipe/internal/whatsapp"
	"golang.org/x/sync/errgroup"
)

const (
	// jobPollInterval is how often due announcement jobs are claimed.
	jobPollInterval = 5 * time.Second
	// outboxPollInterval is how often rendered announcements are delivered.
	outboxPollInterval = 2 * time.Second
	// whatsAppBotName makes "@tourneypipe" a mention in WhatsApp chats.
	whatsAppBotName = "tourneypipe"
)

// run wires every module and blocks until ctx is cancelled or a component fails.
func run(ctx context.Context, config Config) error {
	startedAt := time.Now()
	loc, err := time.LoadLocation(config.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone: %w", err)
	}
	if err := ensureDirectoriesExist(config); err != nil {
		return err
	}

	lock, err := lockfile.AcquireLock(config.StateDir, lockfile.WithPlatform(config.Platform))
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			slog.Warn("Failed to release state lock", "error", err)
		}
	}()

	st, err := store.Open(config.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	reg, err := loadRegistry(config.QuestionsFile)
	if err != nil {
		return err
	}

	commands := messaging.NewCommandRegistry()
	platform, err := buildPlatform(ctx, config, commands)
	if err != nil {
		return err
	}

	timer := flow.NewSimpleTimer()
	defer timer.Stop()
	router := messaging.NewRouter(platform, commands, timer, messaging.WithDedup(st))

	announcer := announce.NewScheduler(st, st, buildAnnounceOptions(config, loc)...)
	runner := store.NewJobRunner(st, jobPollInterval)
	announcer.Register(runner)
	outbox := store.NewOutboxSender(st, announce.Sender(platform), outboxPollInterval)

	sinks := audit.NewMulti(buildAuditSinks(config, platform, st)...)
	slog.Debug("Audit sinks configured", "count", sinks.Len())
	exporter := flow.NewExporter(platform, router, flow.WithAuditSink(sinks), flow.WithAnnouncer(announcer))
	defer exporter.Wait()

	conductor, err := flow.NewConductor(reg, flow.NewSessionStore(), platform, router, timer, exporter,
		flow.WithLocation(loc),
		flow.WithRequiredRole(config.RequiredRole),
	)
	if err != nil {
		return err
	}
	info := flow.BotInfo{Name: "TourneyPipe", Version: version, StartedAt: startedAt}
	if err := flow.RegisterCommands(commands, conductor, platform, info); err != nil {
		return fmt.Errorf("register commands: %w", err)
	}

	rm := recovery.NewManager()
	rm.Register("jobs", recovery.StaleJobs(runner))
	rm.Register("outbox", recovery.StaleOutbox(outbox))
	if err := rm.RecoverAll(ctx); err != nil {
		slog.Warn("Startup recovery incomplete", "error", err)
	}

	cron := scheduler.NewScheduler()
	defer cron.Stop()
	if err := cron.AddRetentionSweep(scheduler.DefaultRetentionSchedule, st, config.Retention); err != nil {
		return err
	}

	if err := platform.Start(ctx); err != nil {
		return fmt.Errorf("start %s: %w", platform.Name(), err)
	}
	router.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		runner.Run(gctx)
		return nil
	})
	g.Go(func() error {
		outbox.Run(gctx)
		return nil
	})
	if config.APIAddr != "" {
		srv := api.NewServer(conductor, st, buildAPIOptions(config, startedAt)...)
		g.Go(func() error { return srv.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return platform.Stop()
	})

	slog.Info("TourneyPipe running", "platform", platform.Name(), "questions", reg.Len(), "api", config.APIAddr != "")
	return g.Wait()
}

func loadRegistry(path string) (*flow.Registry, error) {
	if path == "" {
		return flow.DefaultRegistry()
	}
	reg, err := flow.LoadRegistry(path)
	if err != nil {
		return nil, fmt.Errorf("load questions from %s: %w", path, err)
	}
	return reg, nil
}

// buildPlatform constructs the configured chat platform.
func buildPlatform(ctx context.Context, config Config, commands *messaging.CommandRegistry) (messaging.Platform, error) {
	switch config.Platform {
	case "whatsapp":
		client, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(config)...)
		if err != nil {
			return nil, fmt.Errorf("whatsapp client: %w", err)
		}
		return messaging.NewWhatsAppService(client,
			messaging.WithAdmins(util.SplitList(config.WhatsAppAdmins)),
			messaging.WithBotName(whatsAppBotName),
		), nil
	default:
		return messaging.NewDiscordService(config.DiscordToken, buildDiscordOptions(config, commands)...)
	}
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(config Config) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if config.QROutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(config.QROutput))
	}
	if config.NumericCode {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if config.WhatsAppDBDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(config.WhatsAppDBDSN))
	}
	return waOpts
}

// buildDiscordOptions constructs Discord configuration options
func buildDiscordOptions(config Config, commands *messaging.CommandRegistry) []messaging.DiscordOption {
	opts := []messaging.DiscordOption{messaging.WithCommands(commands)}
	if config.DiscordGuildID != "" {
		opts = append(opts, messaging.WithGuildID(config.DiscordGuildID))
	}
	if config.RequiredRole != "" {
		// Role holders without Manage Server must still see /setup.
		opts = append(opts, messaging.WithOpenPrivileged())
	}
	return opts
}

// buildAnnounceOptions adds the GenAI rewriter when an OpenAI key is configured.
func buildAnnounceOptions(config Config, loc *time.Location) []announce.Option {
	opts := []announce.Option{announce.WithLocation(loc)}
	if config.OpenAIKey == "" {
		return opts
	}
	genaiOpts := []genai.Option{genai.WithAPIKey(config.OpenAIKey)}
	if config.OpenAIModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(config.OpenAIModel))
	}
	client, err := genai.NewClient(genaiOpts...)
	if err != nil {
		slog.Warn("GenAI disabled, announcements use templates only", "error", err)
		return opts
	}
	return append(opts, announce.WithRewriter(client))
}

// buildAuditSinks returns the sinks enabled by the configuration. The store sink
// is always present.
func buildAuditSinks(config Config, platform messaging.Platform, st store.SetupRepo) []flow.AuditSink {
	sinks := []flow.AuditSink{audit.NewStoreSink(st)}
	if config.LogChannelID != "" {
		sinks = append(sinks, audit.NewChannelSink(platform, config.LogChannelID))
	}
	if config.TwilioNotifyTo != "" {
		client, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(config.TwilioAccountSID),
			twiliowhatsapp.WithAuthToken(config.TwilioAuthToken),
			twiliowhatsapp.WithFromWhats(config.TwilioFrom),
		)
		if err != nil {
			slog.Warn("Twilio notifications disabled", "error", err)
		} else {
			sinks = append(sinks, audit.NewNotifySink(client, config.TwilioNotifyTo))
		}
	}
	return sinks
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(config Config, startedAt time.Time) []api.Option {
	return []api.Option{
		api.WithAddr(config.APIAddr),
		api.WithStartedAt(startedAt),
		api.WithVersion(version),
	}
}
