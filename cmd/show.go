package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nycrime-kg/crimedash/internal/config"
	"github.com/nycrime-kg/crimedash/pkg/coordinator"
	"github.com/nycrime-kg/crimedash/pkg/dataset"
	"github.com/nycrime-kg/crimedash/pkg/filter"
	"github.com/nycrime-kg/crimedash/pkg/render"
)

// showCmd represents the show command
var showCmd = &cobra.Command{
	Use:   "show [dataset...]",
	Short: "Print dashboard datasets as tables",
	Long: `Loads the requested datasets (all of them by default) for the given filter
and prints one table per dataset.

Datasets: borough-totals, month-trend, crime-types, hourly, top-crimes, events,
borough-stats, year-month-trend, victim-race`,
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
		rows, _ := cmd.Flags().GetInt("rows")

		views, err := loadViews(cmd.Context(), cfg, state, kinds)
		if err != nil {
			return err
		}

		fmt.Printf("Filter: %s\n\n", state.String())
		failed := 0
		for _, k := range kinds {
			v := views[k]
			spec, _ := dataset.Lookup(k)
			if v.Status == coordinator.Failed {
				failed++
				fmt.Printf("%s: failed: %s\n\n", spec.Title, v.Error())
				continue
			}
			if k == dataset.Events {
				fmt.Println(spec.Title)
				if err := render.EventTable(os.Stdout, v.Result.Events, rows); err != nil {
					return err
				}
			} else {
				if err := render.SeriesTable(os.Stdout, spec.Title, v.Result.Series); err != nil {
					return err
				}
				fmt.Println(render.SummaryLine(v.Result.Series))
			}
			fmt.Println()
		}
		if failed == len(kinds) {
			return fmt.Errorf("all %d datasets failed to load", failed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
	addFilterFlags(showCmd)
	showCmd.Flags().Int("rows", 20, "Maximum incidents printed for the events dataset (0 for all)")
}

func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("borough", "b", filter.All, "Borough filter")
	cmd.Flags().StringP("year", "y", filter.All, "Year filter")
	cmd.Flags().StringP("month", "m", filter.All, "Month filter (1-12)")
	cmd.Flags().StringP("crime", "c", filter.All, "Crime type filter")
	cmd.Flags().String("limit", filter.All, "Maximum number of incidents requested")
}

// stateFromFlags builds a validated filter from the filter flags.
func stateFromFlags(cmd *cobra.Command, cfg *config.Config) (filter.State, error) {
	state, err := filter.Parse(func(name string) string {
		v, _ := cmd.Flags().GetString(name)
		return v
	})
	if err != nil {
		return state, err
	}
	if err := cfg.FilterOptions().Validate(state); err != nil {
		return state, err
	}
	return state, nil
}

func parseKinds(args []string) ([]dataset.Kind, error) {
	if len(args) == 0 {
		return dataset.All, nil
	}
	kinds := make([]dataset.Kind, 0, len(args))
	for _, a := range args {
		k, err := dataset.ParseKind(a)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// loadViews loads kinds for state and waits for all of them.
func loadViews(ctx context.Context, cfg *config.Config, state filter.State, kinds []dataset.Kind) (map[dataset.Kind]coordinator.View, error) {
	coord, err := newCoordinator(cfg, kinds...)
	if err != nil {
		return nil, err
	}
	return coord.LoadAll(ctx, state), nil
}
