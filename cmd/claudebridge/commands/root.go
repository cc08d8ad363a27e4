// Package commands provides the CLI commands for claudebridge.
package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/config"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/logging"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/pkg/types"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	printLogs bool
	logLevel  string
	workDir   string
	envFile   string
)

var rootCmd = &cobra.Command{
	Use:   "claudebridge",
	Short: "Run Claude prompts through a policed execution engine",
	Long: `claudebridge executes prompts against the Claude CLI or the Anthropic API,
enforces a tool policy on every tool the model invokes, and keeps a
per-user session with cost and tool usage.

Run 'claudebridge serve' to expose the engine over HTTP, or
'claudebridge run' to execute a single prompt from a script.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print human-readable logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().StringVarP(&workDir, "directory", "d", "", "Project directory used to find .claudebridge/config.json")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before configuration")

	rootCmd.SetVersionTemplate(fmt.Sprintf("claudebridge %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sessionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// setup loads the dotenv file. It never overrides variables already set.
func setup(cmd *cobra.Command, args []string) error {
	if envFile == "" {
		return nil
	}
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}
	return nil
}

// GetWorkDir returns the working directory from flag or current directory.
func GetWorkDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}

// loadConfig reads the layered configuration and initializes logging from it.
func loadConfig() (*types.Config, string, error) {
	dir, err := GetWorkDir(workDir)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, "", err
	}

	logCfg := logging.FromLogConfig(cfg.Log)
	if logCfg.File != "" && !filepath.IsAbs(logCfg.File) {
		logCfg.File = filepath.Join(config.GetPaths().State, logCfg.File)
	}
	if logLevel != "" {
		logCfg.Level = logging.ParseLevel(logLevel)
	}
	if printLogs {
		logCfg.Pretty = true
	}
	if err := logging.Init(logCfg); err != nil {
		return nil, "", err
	}
	return cfg, dir, nil
}

func closeLogs() {
	logging.Close()
}
