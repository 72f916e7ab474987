// Package main provides resourcetunerctl, the client CLI for the resource
// tuning daemon.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/resourcetuner/resourcetuner/pkg/tuner/config"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "resourcetunerctl",
		Short: "Control the Resource Tuner daemon",
		Long: `resourcetunerctl submits Tune/Retune/Untune requests to the resourcetunerd
daemon and inspects its current state.

Examples:
  resourcetunerctl tune --pid 1234 --tid 1234 --resource 1 --value 2 --duration 5000
  resourcetunerctl status
  resourcetunerctl dump --follow
  resourcetunerctl daemon start`,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/resourcetuner/config.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug output")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "minimal output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "output JSON format")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

// initConfig reads in config file and environment variables, reusing the
// same defaults and search path pkg/tuner/config.Load() uses so
// resourcetunerctl and resourcetunerd agree on socket/PID locations
// without a config file present.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")

		if dir, err := config.ConfigDir(); err == nil {
			viper.AddConfigPath(dir)
		}
	}

	viper.SetEnvPrefix("RESOURCETUNER")
	viper.AutomaticEnv()

	viper.SetDefault("daemon.control_socket_path", "")
	viper.SetDefault("daemon.rpc_socket_path", "")
	viper.SetDefault("daemon.pid_path", "")

	if err := viper.ReadInConfig(); err != nil && cfgFile != "" {
		printError("failed to read config file %s: %v", cfgFile, err)
	}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func getVerbose() bool {
	return viper.GetBool("verbose")
}

func getQuiet() bool {
	return viper.GetBool("quiet")
}

func printVerbose(format string, args ...interface{}) {
	if getVerbose() && !getQuiet() {
		fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", args...)
	}
}

func printInfo(format string, args ...interface{}) {
	if !getQuiet() {
		fmt.Printf(format+"\n", args...)
	}
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

// resolvedPaths derives the client Paths from viper-bound daemon config,
// falling back to XDG defaults the same way pkg/tunerd.DefaultConfig does.
func resolvedPaths() (controlSock, rpcSock, pidPath string) {
	controlSock = viper.GetString("daemon.control_socket_path")
	if controlSock == "" {
		controlSock = config.DefaultControlSocketPath()
	}
	rpcSock = viper.GetString("daemon.rpc_socket_path")
	if rpcSock == "" {
		rpcSock = config.DefaultRPCSocketPath()
	}
	pidPath = viper.GetString("daemon.pid_path")
	if pidPath == "" {
		pidPath = config.DefaultPIDPath()
	}
	return controlSock, rpcSock, pidPath
}
