// Copyright (c) 2018 cloud-spin
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cloud-spin/chili/app"
	"github.com/cloud-spin/chili/config"
	"github.com/cloud-spin/chili/logging"
)

// Revision is injected by main from build flags. APP_REVISION takes precedence.
var Revision string

var envFile string

var rootCmd = &cobra.Command{
	Use:   "chili",
	Short: "Serve the chili info API",
	Long: `Serve the chili info API, its documentation and static files.

Configuration is read from the environment, after loading the dotenv file
given by --env-file (default .env) when it exists.

On SIGINT the readiness probe starts failing, the process waits for the
shutdown grace period, stops the HTTP server, closes the database pool
and exits with status 0.

Examples:
  # Serve on the default port 8080
  chili

  # Serve with a custom env file
  chili --env-file /etc/chili/chili.env

  # Override a setting
  NODE_DOCKER_PORT=9000 chili`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", config.DefaultEnvFile, "Path to a dotenv file loaded before reading the environment")
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func runServe(cmd *cobra.Command, args []string) error {
	if Revision != "" && os.Getenv("APP_REVISION") == "" {
		if err := os.Setenv("APP_REVISION", Revision); err != nil {
			return err
		}
	}

	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("Connection error", zap.Error(err))
		return err
	}

	if err := a.Run(); err != nil {
		logger.Error("Connection error", zap.Error(err))
		return fmt.Errorf("chili stopped: %w", err)
	}
	return nil
}
