// Command bdocctl is the operator CLI: master-data seeding, quota
// inspection and top-ups, and helpers for keys and identifiers.
package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/sumanyunandwani/AnalyzeAI/internal/config"
	"github.com/sumanyunandwani/AnalyzeAI/internal/logging"
)

func main() {
	cfg := config.Load()
	logging.Setup(cfg.LogLevel, "console", "bdocctl")
	if err := newRootCmd(cfg).Execute(); err != nil {
		log.Error().Err(err).Msg("bdocctl")
		os.Exit(1)
	}
}
