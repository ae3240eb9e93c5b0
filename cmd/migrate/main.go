// migrate applies the embedded localchat SQL migrations.
package main

import (
	"flag"
	"fmt"
	"os"

	"localchat/cmd/internal/db/migrate"

	"github.com/joho/godotenv"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	envFile := flag.String("env-file", ".env", "Optional dotenv file")
	flag.Parse()

	// A missing file is fine; real deployments set the environment directly.
	_ = godotenv.Load(*envFile)

	dir, err := migrate.ParseDirection(*direction)
	if err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(2)
	}

	if err := migrate.Run(os.Getenv("LOCALCHAT_DATABASE_URL"), dir); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}
