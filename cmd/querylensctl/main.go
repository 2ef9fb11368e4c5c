package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/querylens/querylens/internal/cli/querylensctl"
	"github.com/querylens/querylens/internal/config"
)

// cliEnv is read from QUERYLENS_* variables.
type cliEnv struct {
	APIURL  string        `env:"API_URL" envDefault:"http://localhost:8080"`
	APIKey  string        `env:"API_KEY"`
	Timeout time.Duration `env:"CLI_TIMEOUT" envDefault:"90s"`
}

func main() {
	if err := config.LoadDotEnv(".env.local", ".env"); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "env file error: %v\n", err)
		os.Exit(1)
	}
	var settings cliEnv
	if err := env.ParseWithOptions(&settings, env.Options{Prefix: "QUERYLENS_"}); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid QUERYLENS_* setting: %v\n", err)
		os.Exit(2)
	}

	code := querylensctl.Run(context.Background(), os.Args[1:], querylensctl.Options{
		BaseURL: strings.TrimSpace(settings.APIURL),
		APIKey:  strings.TrimSpace(settings.APIKey),
		Timeout: settings.Timeout,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	})
	os.Exit(code)
}
