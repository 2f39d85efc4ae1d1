package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "labctl",
	Short: "labctl is a command line tool for managing vlem labs",
	Long: `labctl is the command-line interface for vlem, the lab provisioning engine.

vlem builds isolated practice environments from compose templates kept in a
remote catalog. The controller records labs and queues their jobs; workers
download the template, build it with the compose CLI and tear it down again.

Common workflows:

  Browse the template catalog:
    labctl templates

  Create a lab from a template:
    labctl create web-basic --name "SQLi practice"

  Follow the build:
    labctl logs web-basic-1a2b3c4d5e6f --follow

  Inspect a lab and its containers:
    labctl status web-basic-1a2b3c4d5e6f
    labctl containers web-basic-1a2b3c4d5e6f

  List and remove labs:
    labctl list --status FAILED
    labctl delete web-basic-1a2b3c4d5e6f

Configuration:
  Set the API endpoint and credentials via flags, environment variables or
  $HOME/.labctl.yaml:
    VLEM_URL      API endpoint (default: http://localhost:6161)
    VLEM_TOKEN    API token, when the controller requires one`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".labctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".labctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "VLEM_VARNAME"
	viper.SetEnvPrefix("VLEM")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newClient builds a client from the resolved url and token settings.
func newClient() *LabClient {
	return NewLabClient(viper.GetString("url"), viper.GetString("token"))
}

// printAPIError reports a failed call the same way for every command.
func printAPIError(cmd *cobra.Command, err error) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
		return
	}
	cmd.Printf("Error: %v\n", err)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.labctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6161", "vlem controller URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "API token for authentication")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}
