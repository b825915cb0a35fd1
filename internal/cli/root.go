// Package cli implements the lanchat terminal client: a cobra command tree
// around the transport layer plus a tview chat interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

const (
	serverURLKey = "server_url"
	usernameKey  = "username"
)

var rootCmd = &cobra.Command{
	Use:   "lanchat",
	Short: "Terminal client for a lanchat broker",
	Long: `lanchat connects to a lanchat broker on the local network and opens
a terminal chat interface. The room directory streams in over a lobby
connection while the joined room gets its own message stream.`,
}

// Execute runs the root command. It is called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.lanchat.yaml)")
	rootCmd.PersistentFlags().StringP("server", "s", "ws://localhost:8080", "broker base URL, e.g. ws://192.168.1.20:8080")
	rootCmd.PersistentFlags().StringP("name", "n", "", "display name (1-10 letters, digits, _, - or CJK)")

	viper.BindPFlag(serverURLKey, rootCmd.PersistentFlags().Lookup("server"))
	viper.BindPFlag(usernameKey, rootCmd.PersistentFlags().Lookup("name"))
	viper.SetDefault(serverURLKey, "ws://localhost:8080")
}

// initConfig layers the config file and environment over flag defaults.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".lanchat")
	}

	viper.SetEnvPrefix("lanchat")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintln(os.Stderr, "Error reading config file:", err)
		}
	}
}
