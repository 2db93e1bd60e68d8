package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/s3paste/internal/config"
	"github.com/openmined/s3paste/internal/utils"
	"github.com/openmined/s3paste/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	red   = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green = color.New(color.FgHiGreen).SprintFunc()
	cyan  = color.New(color.FgHiCyan).SprintFunc()
	gray  = color.New(color.FgHiBlack).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:           "s3paste",
	Short:         "Upload pasted assets to S3 compatible storage and link them into markdown notes",
	Version:       version.Detailed(),
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "s3paste config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug output to the terminal")
	rootCmd.PersistentFlags().String("queue-backend", config.QueueBackendFile, "Queue store: file, sqlite or memory")
	rootCmd.PersistentFlags().String("queue-path", config.DefaultQueuePath, "Queue store location")
}

func main() {
	file, err := openLogFile(config.DefaultLogFilePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	stdoutHandler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})
	fileHandler := slog.NewTextHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug})
	slog.SetDefault(slog.New(utils.NewMultiLogHandler(stdoutHandler, fileHandler)))

	cobra.OnInitialize(func() {
		if verbose, _ := rootCmd.PersistentFlags().GetBool("verbose"); verbose {
			level.Set(slog.LevelDebug)
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, red("Error:"), err)
		}
		stop()
		os.Exit(1)
	}
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

func loadConfig(cmd *cobra.Command) error {
	// .env files only fill variables that are not already set
	for _, envFile := range []string{".env", filepath.Join(config.DefaultConfigDir, ".env")} {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	config.SetDefaults(viper.GetViper())

	if cmd.Flag("config").Changed {
		configFilePath, _ := cmd.Flags().GetString("config")
		viper.SetConfigFile(configFilePath)
	} else {
		viper.AddConfigPath(config.DefaultConfigDir)
		viper.AddConfigPath(filepath.Join(home(), ".config", "s3paste"))
		viper.SetConfigName("config")
		viper.SetConfigType("json")
	}

	if err := viper.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		var notFound viper.ConfigFileNotFoundError
		if !enoent && !errors.As(err, &notFound) {
			return fmt.Errorf("config read '%s': %w", viper.ConfigFileUsed(), err)
		}
	}

	if flag := cmd.Flag("queue-backend"); flag != nil && flag.Changed {
		viper.Set("queue.backend", flag.Value.String())
	}
	if flag := cmd.Flag("queue-path"); flag != nil && flag.Changed {
		viper.Set("queue.path", flag.Value.String())
	}

	viper.SetEnvPrefix("S3PASTE")
	viper.AutomaticEnv()

	return nil
}

// mustConfig decodes and validates the loaded config
func mustConfig(requireStorage bool) (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(requireStorage); err != nil {
		return nil, err
	}
	return cfg, nil
}

func home() string {
	dir, _ := os.UserHomeDir()
	return dir
}

func showHeader() {
	color.New(color.FgHiCyan, color.Bold).Fprintln(os.Stderr, "s3paste "+version.Short())
}
