package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/auraplan/aura/internal/config"
	"github.com/auraplan/aura/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "aura",
	Short: "Study planner that fits assignments around your week",
	Long: "aura turns syllabi and schedules into assignments and weekly commitments, " +
		"then packs the work into the free time of a planning window.",
	SilenceUsage: true,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Open config file in your editor",
	Args:  cobra.NoArgs,
	RunE:  runConfig,
}

var (
	flagUser    string
	flagVerbose bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagUser, "user", "", "user id (default from config)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "log debug output to stderr")

	rootCmd.AddCommand(configCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// env bundles what most commands need.
type env struct {
	cfg    *config.Config
	user   string
	logger *slog.Logger
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	user := flagUser
	if user == "" {
		user = cfg.User.ID
	}
	return &env{cfg: cfg, user: user, logger: newLogger()}, nil
}

func openDB() (*store.DB, error) {
	db, err := store.Open()
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

func runConfig(cmd *cobra.Command, args []string) error {
	configPath, err := config.ConfigPath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := config.WriteDefault(configPath); err != nil {
			return fmt.Errorf("writing default config: %w", err)
		}
	}

	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "vi"
	}

	fmt.Printf("Opening %s with %s...\n", configPath, editor)

	c := exec.Command(editor, configPath)
	c.Stdin, c.Stdout, c.Stderr = os.Stdin, os.Stdout, os.Stderr
	if err := c.Run(); err != nil {
		fmt.Printf("Could not open editor. Config file is at: %s\n", configPath)
	}
	return nil
}
