package cmd

import (
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/bascanada/epidata/pkg/log"
	"github.com/bascanada/epidata/pkg/server"
)

var (
	port int
	host string
)

var serverCmd = &cobra.Command{
	Use:    "server",
	Short:  "Start the epidata HTTP server",
	Long:   `Starts an HTTP server exposing measurement queries, key listing, contexts, config reload events and Prometheus metrics.`,
	PreRun: onCommandStart,
	RunE: func(cmd *cobra.Command, _ []string) error {
		level := slog.LevelInfo
		if log.ParseLevel(logger.Level) <= log.LevelDebug {
			level = slog.LevelDebug
		}
		slogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

		cfg, path, err := loadConfig(configPath)
		if err != nil {
			slogger.Error("failed to load configuration", "path", configPath, "err", err)
			return err
		}
		slogger.Info("configuration loaded", "path", path, "engines", len(cfg.Engines), "contexts", len(cfg.Contexts))

		s, err := server.NewServer(host, strconv.Itoa(port), cfg, path, slogger)
		if err != nil {
			return err
		}
		return s.Start()
	},
}

func init() {
	serverCmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")
	serverCmd.Flags().StringVarP(&host, "host", "H", "0.0.0.0", "Host to bind to")
	addEngineFlags(serverCmd)
}
