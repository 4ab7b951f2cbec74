package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nycrime-kg/crimedash/internal/config"
	"github.com/nycrime-kg/crimedash/internal/utils"
	"github.com/nycrime-kg/crimedash/pkg/coordinator"
	"github.com/nycrime-kg/crimedash/pkg/dataset"
	"github.com/nycrime-kg/crimedash/pkg/whttp"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "crimedash",
	Short: "Explore NYC crime statistics from the command line or the browser.",
	Long: `crimedash queries a crime knowledge graph API and turns the results into
tables, charts and a filterable web dashboard. It can also serve the query
API itself from NYPD open data CSV exports.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.crimedash.yaml)")

	// Global flags
	rootCmd.PersistentFlags().String("api-url", "", "Base URL of the crime query API (overrides api.base_url)")
	rootCmd.PersistentFlags().StringP("proxy", "", "", "HTTP Proxy (Useful for debugging. Example: http://127.0.0.1:8080)")
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")
	rootCmd.PersistentFlags().String("logformat", "text", "Log format: text or json")

	viper.BindPFlag("api.base_url", rootCmd.PersistentFlags().Lookup("api-url"))
	viper.BindPFlag("api.proxy", rootCmd.PersistentFlags().Lookup("proxy"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".crimedash")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("CRIMEDASH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && cfgFile == "" {
			// Config file not found; create it with defaults.
			home, _ := homedir.Dir()
			configPath := filepath.Join(home, ".crimedash.yaml")
			if err := viper.SafeWriteConfigAs(configPath); err != nil {
				fmt.Fprintf(os.Stderr, "Error creating config file: %s\n", err)
			}
		} else {
			fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
			os.Exit(1)
		}
	}

	// Init log library
	levelString, _ := rootCmd.PersistentFlags().GetString("loglevel")
	if err := utils.SetLogLevel(levelString); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	formatString, _ := rootCmd.PersistentFlags().GetString("logformat")
	if err := utils.SetLogFormat(formatString); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetViper())
}

// newCoordinator wires the HTTP client and coordinator from cfg. No kinds
// means every dataset.
func newCoordinator(cfg *config.Config, kinds ...dataset.Kind) (*coordinator.Coordinator, error) {
	cc := cfg.Client()
	cc.Log = utils.Log
	client, err := whttp.New(cc)
	if err != nil {
		return nil, err
	}
	return coordinator.New(coordinator.Config{
		Fetcher:  client,
		Datasets: kinds,
		Options:  cfg.DatasetOptions(),
		Log:      utils.Log,
	})
}
