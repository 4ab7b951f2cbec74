package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nycrime-kg/crimedash/internal/server"
	"github.com/nycrime-kg/crimedash/pkg/storage"
)

// apiCmd represents the api command
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Serve the crime query API from the local incident database",
	Long: `Serves the query endpoints the dashboard consumes (/api/boroughs,
/api/trend_by_year, ...) backed by incidents imported with "crimedash db import".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path, err := resolveDBPath(cmd, cfg)
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return fmt.Errorf("database file not found: %s (run 'crimedash db import' first)", path)
		}

		db, err := storage.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open DB: %w", err)
		}
		defer db.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv := server.New(db, cfg.Server.Username, cfg.Server.Password)
		return srv.Start(ctx, cfg.Server.APIListen)
	},
}

func init() {
	rootCmd.AddCommand(apiCmd)

	apiCmd.Flags().StringP("bind", "b", "", "Address to bind the server to (overrides server.api_listen)")
	apiCmd.Flags().StringP("username", "u", "", "Username for basic auth (optional)")
	apiCmd.Flags().StringP("password", "p", "", "Password for basic auth (optional)")
	apiCmd.Flags().String("dbpath", "", "Path to SQLite DB file (overrides db.path)")

	viper.BindPFlag("server.api_listen", apiCmd.Flags().Lookup("bind"))
	viper.BindPFlag("server.username", apiCmd.Flags().Lookup("username"))
	viper.BindPFlag("server.password", apiCmd.Flags().Lookup("password"))
}
