package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/sw33tLie/wascope/internal/utils"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

var cfgFile string

const (
	LOGO = `
	__      ____ _ ___  ___ ___  _ __   ___
	\ \ /\ / / _` + "`" + ` / __|/ __/ _ \| '_ \ / _ \
	 \ V  V / (_| \__ \ (_| (_) | |_) |  __/
	  \_/\_/ \__,_|___/\___\___/| .__/ \___|
	                            |_|

`
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "wascope",
	Short: "Bulk WhatsApp presence checker for phone number lists.",
	Long: LOGO + `wascope validates phone number lists, checks each number against the
WhatsApp data API, and keeps every run as a resumable session you can
export to JSON, CSV or XLSX.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.wascope.yaml)")

	// Global flags
	rootCmd.PersistentFlags().StringP("proxy", "", "", "HTTP Proxy (Useful for debugging. Example: http://127.0.0.1:8080)")
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")
	rootCmd.PersistentFlags().StringP("dbpath", "", "", "Path to the session database (default is ~/.config/wascope/wascope.sqlite)")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".wascope")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; create it with defaults.
			home, _ := homedir.Dir()
			configPath := home + "/.wascope.yaml"
			if err := viper.SafeWriteConfigAs(configPath); err != nil {
				fmt.Printf("Error creating config file: %s", err)
			}
		}
	}

	// Set default empty values for all keys
	viper.SetDefault("wadata.apikey", "")
	viper.SetDefault("wadata.baseurl", "")
	viper.SetDefault("check.maxretries", 3)
	viper.SetDefault("check.retrydelayms", 1000)
	viper.SetDefault("check.backoff", "fixed")
	viper.SetDefault("check.timeoutms", 15000)
	viper.SetDefault("check.concurrency", 1)
	viper.SetDefault("check.throwonlimit", false)
	viper.SetDefault("check.stoponerror", false)
	viper.SetDefault("check.ratelimitfloor", 0)

	// Init log library
	levelString, _ := rootCmd.PersistentFlags().GetString("loglevel")
	utils.SetLogLevel(levelString)
}
