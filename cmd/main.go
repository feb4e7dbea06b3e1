package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/relaysms/relay"
	"github.com/relaysms/relay/config"
	"github.com/relaysms/relay/database"
	"github.com/relaysms/relay/internal/notification"
)

// Relay is the CLI application, wrapping the root cobra command.
type Relay struct {
	cmd *cobra.Command
}

// relayInstance carries the initialized service and its configuration into
// the subcommands.
type relayInstance struct {
	relay *relay.Relay
	cnf   *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads configuration and initializes the relay instance before any
// subcommand executes.
func preRun(app *relayInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("relay.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newRelay, err := setupRelay(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.relay = newRelay
		app.cnf = cnf

		return nil
	}
}

func setupRelay(cfg *config.Configuration) (*relay.Relay, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newRelay, err := relay.NewRelay(db)
	if err != nil {
		return nil, fmt.Errorf("error creating relay: %v", err)
	}
	return newRelay, nil
}

// NewCLI assembles the root command and its subcommands.
func NewCLI() *Relay {
	var configFile string
	r := &relayInstance{}

	var rootCmd = &cobra.Command{
		Use:   "relay",
		Short: "SMS send orchestration",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./relay.json", "Configuration file for relay")

	rootCmd.PersistentPreRunE = preRun(r)

	rootCmd.AddCommand(serverCommands(r))
	rootCmd.AddCommand(workerCommands(r))
	rootCmd.AddCommand(migrateCommands(r))

	return &Relay{cmd: rootCmd}
}

func (w Relay) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()
	cli := NewCLI()
	cli.executeCLI()
}
