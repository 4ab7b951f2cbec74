package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nycrime-kg/crimedash/internal/utils"
	"github.com/nycrime-kg/crimedash/pkg/coordinator"
	"github.com/nycrime-kg/crimedash/pkg/dataset"
	"github.com/nycrime-kg/crimedash/pkg/render"
)

// chartsCmd represents the charts command
var chartsCmd = &cobra.Command{
	Use:   "charts [dataset...]",
	Short: "Render dataset charts as PNG files",
	Long: `Loads the requested datasets for the given filter and writes one PNG chart
per dataset to the output directory. The events dataset has no chart.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		state, err := stateFromFlags(cmd, cfg)
		if err != nil {
			return err
		}
		kinds, err := parseKinds(args)
		if err != nil {
			return err
		}
		// Events are a listing; nothing to plot.
		charted := kinds[:0:0]
		for _, k := range kinds {
			if k != dataset.Events {
				charted = append(charted, k)
			}
		}
		if len(charted) == 0 {
			return errors.New("no chartable dataset requested")
		}

		outDir, _ := cmd.Flags().GetString("out")
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return err
		}

		views, err := loadViews(cmd.Context(), cfg, state, charted)
		if err != nil {
			return err
		}

		written := 0
		for _, k := range charted {
			v := views[k]
			if v.Status == coordinator.Failed {
				utils.Log.Warnf("Skipping %s: %s", k, v.Error())
				continue
			}
			path := filepath.Join(outDir, string(k)+".png")
			if err := writeChart(path, k, v); err != nil {
				if errors.Is(err, render.ErrEmptySeries) {
					utils.Log.Infof("Skipping %s: no data for this filter", k)
					continue
				}
				return fmt.Errorf("%s: %w", k, err)
			}
			utils.Log.Infof("Wrote %s", path)
			written++
		}
		if written == 0 {
			return errors.New("no chart was written")
		}
		return nil
	},
}

func writeChart(path string, kind dataset.Kind, v coordinator.View) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := render.Chart(f, kind, v.Result.Series); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

func init() {
	rootCmd.AddCommand(chartsCmd)
	addFilterFlags(chartsCmd)
	chartsCmd.Flags().StringP("out", "o", "charts", "Output directory")
}
