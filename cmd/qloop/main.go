package main

import (
	"os"

	"github.com/joho/godotenv"
)

func main() {
	// Local .env keeps agent API keys out of the shell profile.
	_ = godotenv.Load()
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
