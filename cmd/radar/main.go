package main

import (
	"github.com/joho/godotenv"

	"github.com/metaversebroly/radar-screener/internal/cli"
)

func init() {
	// .env is optional; deployments usually set RADAR_* vars directly.
	_ = godotenv.Load()
}

func main() {
	cli.Execute()
}
