package main

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/relaysms/relay/api"
	"github.com/relaysms/relay/config"
)

func initializeRouter(r *relayInstance) *gin.Engine {
	return api.NewAPI(r.relay).Router()
}

func startServer(router *gin.Engine, cfg config.ServerConfig) error {
	log.Printf("Starting server on http://localhost:%s", cfg.Port)
	return router.Run(":" + cfg.Port)
}

// serverCommands returns the command that starts the HTTP API.
func serverCommands(r *relayInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start relay server",
		Run: func(cmd *cobra.Command, args []string) {
			router := initializeRouter(r)

			cfg, err := config.Fetch()
			if err != nil {
				log.Fatal(err)
			}

			if err := startServer(router, cfg.Server); err != nil {
				log.Fatal(err)
			}
		},
	}

	return cmd
}
