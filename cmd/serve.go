package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nycrime-kg/crimedash/internal/utils"
	"github.com/nycrime-kg/crimedash/internal/web"
	"github.com/nycrime-kg/crimedash/pkg/coordinator"
	"github.com/nycrime-kg/crimedash/pkg/filter"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		coord, err := newCoordinator(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// Warm up with the unfiltered dashboard so the first page is ready.
		if noWarm, _ := cmd.Flags().GetBool("no-warmup"); !noWarm {
			coord.Apply(ctx, filter.Default())
			waitCtx, cancel := context.WithTimeout(ctx, cfg.Dashboard.WaitTimeout)
			if err := coord.Wait(waitCtx); err != nil {
				utils.Log.Warnf("Warmup still running: %v", err)
			}
			cancel()
			if failed := countFailed(coord); failed > 0 {
				utils.Log.Warnf("%d datasets failed during warmup", failed)
			}
		}

		srv := web.New(ctx, coord, cfg.FilterOptions(), cfg.Dashboard.WaitTimeout)
		if rows, _ := cmd.Flags().GetInt("rows"); rows > 0 {
			srv.EventRows = rows
		}
		go srv.AutoRefresh(ctx, cfg.Dashboard.RefreshInterval)
		return srv.Start(ctx, cfg.Server.Listen)
	},
}

func countFailed(coord *coordinator.Coordinator) int {
	n := 0
	for _, v := range coord.Views() {
		if v.Status == coordinator.Failed {
			n++
		}
	}
	return n
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", "", "HTTP listen address (overrides server.listen)")
	serveCmd.Flags().Int("rows", web.DefaultEventRows, "Incidents listed on the page")
	serveCmd.Flags().Bool("no-warmup", false, "Do not load the unfiltered dashboard at startup")
	viper.BindPFlag("server.listen", serveCmd.Flags().Lookup("listen"))
}
