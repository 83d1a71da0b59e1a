/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/jerry-enebeli/linkcache"
	"github.com/jerry-enebeli/linkcache/config"
	"github.com/jerry-enebeli/linkcache/database"
	"github.com/jerry-enebeli/linkcache/internal/notification"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// CLI wraps the root cobra command.
type CLI struct {
	cmd *cobra.Command
}

// linkCacheInstance holds what every subcommand needs once preRun has loaded the configuration.
type linkCacheInstance struct {
	linkCache *linkcache.LinkCache
	cnf       *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and builds the link cache before any subcommand runs.
func preRun(app *linkCacheInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(*configFile)
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		// migrations and config printing must work against a schema that does not exist yet
		if cmd.Name() == "config" || cmd.Parent() != nil && cmd.Parent().Name() == "migrate" {
			app.cnf = cnf
			return nil
		}

		l, err := setupLinkCache(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.linkCache = l
		app.cnf = cnf
		return nil
	}
}

func setupLinkCache(cfg *config.Configuration) (*linkcache.LinkCache, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	l, err := linkcache.NewLinkCache(db)
	if err != nil {
		return nil, fmt.Errorf("error creating link cache: %v", err)
	}
	return l, nil
}

func NewCLI() *CLI {
	var configFile string
	app := &linkCacheInstance{}

	var rootCmd = &cobra.Command{
		Use:   "linkcache",
		Short: "Marketplace link resolution cache",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./linkcache.json", "Configuration file for linkcache")
	rootCmd.PersistentPreRunE = preRun(app, &configFile)

	rootCmd.AddCommand(serverCommands(app))
	rootCmd.AddCommand(workerCommands(app))
	rootCmd.AddCommand(migrateCommands(app))
	rootCmd.AddCommand(configCommands(app))

	return &CLI{cmd: rootCmd}
}

func (c CLI) executeCLI() {
	if err := c.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
