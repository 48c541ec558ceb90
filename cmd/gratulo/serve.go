package main

import (
	"github.com/spf13/cobra"

	"github.com/foxzi/gratulo/internal/app"
	"github.com/foxzi/gratulo/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server and the mail dispatcher",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	a, err := app.New(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	return a.Run(cmd.Context())
}
