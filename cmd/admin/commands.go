package main

import (
	"anonchat/backend/internal/chathub"
	"anonchat/backend/internal/config"
	"anonchat/backend/internal/localization"
	"anonchat/backend/internal/moderation"
	"anonchat/backend/internal/models"
	"anonchat/backend/internal/storage"
	"anonchat/backend/internal/telegram"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// app holds the connections shared by the subcommands. Fields left nil are
// opened from the environment on first use.
type app struct {
	cfg      config.Config
	store    *storage.Service
	profiles storage.ProfileStore
	out      io.Writer

	// transport overrides the Redis/Telegram delivery used by sweep and
	// broadcast.
	transport chathub.Transport
}

func newRootCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "admin",
		Short:         "Operator tool for the anonchat session store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.connect(cmd.Context())
		},
	}

	cmd.AddCommand(newGrantCommand(a, true))
	cmd.AddCommand(newGrantCommand(a, false))
	cmd.AddCommand(newInspectCommand(a))
	cmd.AddCommand(newRoomsCommand(a))
	cmd.AddCommand(newSweepCommand(a))
	cmd.AddCommand(newBroadcastCommand(a))
	cmd.AddCommand(newMoodStatsCommand(a))
	return cmd
}

func (a *app) connect(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}
	if err := cfg.ConfigureLogger(); err != nil {
		return err
	}
	a.cfg = cfg

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
	}
	a.store = storage.NewStorageService(rdb, cfg.StoreRetryAttempts)
	return nil
}

// profileStore opens PostgreSQL lazily; only mood-stats needs it.
func (a *app) profileStore() (storage.ProfileStore, error) {
	if a.profiles != nil {
		return a.profiles, nil
	}
	db, err := gorm.Open(postgres.Open(a.cfg.DatabaseDSN), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a.profiles = storage.NewProfileRepository(db)
	return a.profiles, nil
}

// hub builds an engine that delivers notices the way the server does: web
// sessions through the deliver channel, Telegram chats through the bot API.
func (a *app) hub() (*chathub.ManagerService, error) {
	t := a.transport
	if t == nil {
		loc, err := localization.NewDefaultLocalizer()
		if err != nil {
			return nil, err
		}
		routed := &chathub.RoutedTransport{Web: chathub.NewWebHub(a.store, loc, a.cfg.DefaultLanguage)}
		if a.cfg.TelegramBotToken != "" {
			bot, err := telegram.NewBotAPI(a.cfg.TelegramBotToken)
			if err != nil {
				return nil, err
			}
			routed.Telegram = telegram.NewClient(bot, loc, a.cfg.DefaultLanguage)
		}
		t = routed
	}
	opts := chathub.DefaultOptions()
	if a.cfg.InactivityTimeout > 0 {
		opts.InactivityTimeout = a.cfg.InactivityTimeout
		opts.EmptyRoomTTL = a.cfg.EmptyRoomTTL
	}
	return chathub.NewManagerService(a.store, nil, t, moderation.NewDefaultFilter(), opts), nil
}

func parseSessionID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid session id %q", raw)
	}
	return id, nil
}

func newGrantCommand(a *app, grant bool) *cobra.Command {
	use, short := "grant <session_id>", "Give a session the admin flag"
	if !grant {
		use, short = "revoke <session_id>", "Take the admin flag away from a session"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			if _, err := a.store.UpdateSession(cmd.Context(), id, func(s *models.Session) error {
				s.IsAdmin = grant
				return nil
			}); err != nil {
				return err
			}
			log.Info().Str("module", "admin").Int64("session_id", id).Bool("is_admin", grant).Msg("admin flag updated")
			fmt.Fprintf(a.out, "session %d: is_admin=%t\n", id, grant)
			return nil
		},
	}
}

func newInspectCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <session_id>",
		Long:  "Print a session record. Web session ids are negative; pass them after --.",
		Short: "Print a session record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			sess, err := a.store.GetSession(cmd.Context(), id)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(a.out)
			enc.SetIndent("", "  ")
			return enc.Encode(sess)
		},
	}
}

func newRoomsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rooms",
		Short: "List every room, including empty ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rooms, err := a.store.ListRooms(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tMEMBERS\tCAPACITY\tCREATED")
			for _, r := range rooms {
				members := make([]string, 0, len(r.Members))
				for _, m := range r.Members {
					members = append(members, strconv.FormatInt(m, 10))
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", r.ID, r.Name, strings.Join(members, ","), r.Capacity, r.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func newSweepCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Release inactive sessions and delete expired empty rooms now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hub, err := a.hub()
			if err != nil {
				return err
			}
			n, err := hub.Reaper.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "reaped %d sessions\n", n)
			return nil
		},
	}
}

func newBroadcastCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "broadcast <message>",
		Short: "Send an announcement to every known session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hub, err := a.hub()
			if err != nil {
				return err
			}
			n, err := hub.Broadcast(cmd.Context(), 0, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "delivered to %d sessions\n", n)
			return nil
		},
	}
}

func newMoodStatsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mood-stats",
		Short: "Print how often each mood was recorded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			profiles, err := a.profileStore()
			if err != nil {
				return err
			}
			stats, err := profiles.GetMoodStats(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MOOD\tCOUNT")
			for _, c := range chathub.SortMoodStats(stats) {
				fmt.Fprintf(w, "%s\t%d\n", c.Mood, c.Count)
			}
			return w.Flush()
		},
	}
}
