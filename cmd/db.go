package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nycrime-kg/crimedash/internal/config"
	"github.com/nycrime-kg/crimedash/internal/utils"
	"github.com/nycrime-kg/crimedash/pkg/ingest"
	"github.com/nycrime-kg/crimedash/pkg/storage"
)

const importBatchSize = 5000

// dbCmd represents the db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Interact with the local incident database",
}

// resolveDBPath returns the absolute database path, preferring --dbpath.
func resolveDBPath(cmd *cobra.Command, cfg *config.Config) (string, error) {
	path := cfg.DB.Path
	if f := cmd.Flags().Lookup("dbpath"); f != nil && f.Changed {
		path = f.Value.String()
	}
	return utils.GetAbsDBPath(path)
}

// importCmd represents the import command
var importCmd = &cobra.Command{
	Use:   "import <file.csv>...",
	Short: "Import NYPD shooting or complaint CSV exports",
	Long: `Reads NYPD open data CSV exports (shooting incidents or complaint data, "-"
for stdin) and upserts the incidents into the database. Rows without a valid
date are skipped and reported.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path, err := resolveDBPath(cmd, cfg)
		if err != nil {
			return err
		}
		if _, err := utils.EnsureDBDir(path); err != nil {
			return fmt.Errorf("could not create database directory: %w", err)
		}

		lock, err := utils.NewDBLock(path)
		if err != nil {
			return err
		}
		if err := lock.Lock(); err != nil {
			return err
		}
		defer lock.Unlock()

		db, err := storage.Open(path)
		if err != nil {
			return err
		}
		defer db.Close()

		verbose, _ := cmd.Flags().GetBool("verbose")
		ctx := cmd.Context()

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
		fmt.Fprintln(w, "FILE\tROWS\tSKIPPED\tADDED\tUPDATED\tUNCHANGED\t")
		for _, name := range args {
			stats, res, err := importFile(ctx, db, name)
			if err != nil {
				w.Flush()
				return fmt.Errorf("%s: %w", name, err)
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t\n", name, stats.Rows, stats.Skipped, res.Added, res.Updated, res.Unchanged)
			if verbose {
				for _, e := range stats.Errors {
					utils.Log.Warnf("%s: %s", name, e.Error())
				}
			} else if stats.Skipped > 0 {
				utils.Log.Infof("%s: %d rows skipped (use --verbose to list them)", name, stats.Skipped)
			}
		}
		return w.Flush()
	},
}

func importFile(ctx context.Context, db *storage.DB, name string) (ingest.Stats, storage.InsertResult, error) {
	var r io.Reader = os.Stdin
	if name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return ingest.Stats{}, storage.InsertResult{}, err
		}
		defer f.Close()
		r = f
	}

	var total storage.InsertResult
	batch := make([]storage.Incident, 0, importBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		res, err := db.InsertIncidents(ctx, batch)
		if err != nil {
			return err
		}
		total.Added += res.Added
		total.Updated += res.Updated
		total.Unchanged += res.Unchanged
		utils.Log.Debugf("Stored batch of %d incidents", len(batch))
		batch = batch[:0]
		return nil
	}

	stats, err := ingest.Read(r, func(inc storage.Incident) error {
		batch = append(batch, inc)
		if len(batch) >= importBatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return stats, total, err
	}
	return stats, total, flush()
}

// shellCmd represents the shell command
var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Start an interactive shell to the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		dbPath, err := resolveDBPath(cmd, cfg)
		if err != nil {
			return err
		}

		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return fmt.Errorf("database file not found: %s", dbPath)
		}

		// Check if sqlite3 is in PATH
		sqlitePath, err := exec.LookPath("sqlite3")
		if err != nil {
			return fmt.Errorf("sqlite3 command not found in your PATH. Please install it to use the db shell")
		}

		// Print schema first
		fmt.Println("--> Database schema:")
		schemaCmd := exec.Command(sqlitePath, dbPath, ".schema")
		schemaCmd.Stdout = os.Stdout
		schemaCmd.Stderr = os.Stderr
		if err := schemaCmd.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: couldn't retrieve schema: %v\n", err)
		}
		fmt.Println("\n--> Starting interactive shell... (Ctrl+D to exit)")

		c := exec.Command(sqlitePath, dbPath)
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr

		return c.Run()
	},
}

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Prints per-borough statistics about the incidents in the database.",
	Long:  "Prints per-borough statistics about the incidents in the database.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		dbPath, err := resolveDBPath(cmd, cfg)
		if err != nil {
			return err
		}
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return fmt.Errorf("database file not found: %s", dbPath)
		}

		db, err := storage.Open(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats(cmd.Context())
		if err != nil {
			return err
		}

		if len(stats) == 0 {
			fmt.Println("No data in the database to generate stats.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
		fmt.Fprintln(w, "BOROUGH\tINCIDENTS\tCRIME TYPES\tGEOCODED\tFIRST\tLAST\t")

		var totalIncidents, totalGeocoded int
		first, last := "", ""
		for _, s := range stats {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\t%s\t\n", s.Borough, s.Incidents, s.CrimeTypes, s.Geocoded, s.First, s.Last)
			totalIncidents += s.Incidents
			totalGeocoded += s.Geocoded
			if first == "" || (s.First != "" && s.First < first) {
				first = s.First
			}
			if s.Last > last {
				last = s.Last
			}
		}

		fmt.Fprintln(w, " \t \t \t \t \t \t")
		fmt.Fprintf(w, "TOTAL\t%d\t \t%d\t%s\t%s\t\n", totalIncidents, totalGeocoded, first, last)

		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(importCmd)
	dbCmd.AddCommand(shellCmd)
	dbCmd.AddCommand(statsCmd)
	dbCmd.PersistentFlags().String("dbpath", "", "Path to SQLite DB file (default ~/.config/crimedash/incidents.sqlite)")
	importCmd.Flags().BoolP("verbose", "v", false, "List every skipped row")
}
