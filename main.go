package main

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/allerbuddy/allerbuddy-api/api/handlers"

	"go.uber.org/zap"

	"github.com/allerbuddy/allerbuddy-api/config"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

// run owns the app lifecycle so the feeds, trackers and the scheduler are
// stopped on every exit path, which a log.Fatal in main would skip.
func run() error {
	a := handlers.App{}
	a.Config = *config.New()

	if err := a.Initialize(); err != nil { //initialize database, router and the emergency engine
		return err
	}
	defer a.Shutdown()

	port := os.Getenv("PORT")
	baseURL := os.Getenv("BASE_URL")
	zap.S().Infow("allerbuddy-api is up and running",
		"port", port,
		"url", baseURL,
	)
	return http.ListenAndServe(fmt.Sprintf(":%v", port), a.Router)
}
