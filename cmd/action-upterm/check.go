package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate session inputs without side effects",
	Long:  "Resolves inputs from flags, environment, and the defaults file, runs validation, and prints the resulting session configuration. Nothing is installed or launched.",
	RunE:  runCheck,
}

func init() {
	addInputFlags(checkCmd)
	rootCmd.AddCommand(checkCmd)
}

type checkOutput struct {
	UptermServer       string   `yaml:"upterm-server"`
	WaitTimeoutMinutes int      `yaml:"wait-timeout-minutes"`
	AllowedUsers       []string `yaml:"allowed-users,omitempty"`
	LimitAccessToActor bool     `yaml:"limit-access-to-actor"`
	Actor              string   `yaml:"actor,omitempty"`
	CustomKnownHosts   bool     `yaml:"custom-known-hosts"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	raw, err := gatherInput(cmd)
	if err != nil {
		return err
	}
	cfg, err := raw.Validate()
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(checkOutput{
		UptermServer:       cfg.UptermServer,
		WaitTimeoutMinutes: cfg.WaitTimeoutMinutes,
		AllowedUsers:       cfg.AllowedUsers,
		LimitAccessToActor: cfg.LimitAccessToActor,
		Actor:              cfg.Actor,
		CustomKnownHosts:   cfg.KnownHosts != "",
	})
	if err != nil {
		return err
	}

	fmt.Println("OK")
	_, err = os.Stdout.Write(out)
	return err
}
