package main

import (
	"os"

	"chatsync/internal/app"
	"chatsync/internal/logger"
)

func main() {
	if err := app.Run(); err != nil {
		logger.Log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
