package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"simoj/internal/cli/command"
	"simoj/internal/cli/config"
	"simoj/internal/cli/http"
	"simoj/internal/cli/repl"
	"simoj/internal/cli/state"
)

const defaultConfigPath = "configs/cli.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	baseURL := flag.String("base", "", "Override base URL")
	timeout := flag.Duration("timeout", 0, "Override HTTP timeout (e.g. 10s)")
	userID := flag.Int64("user", 0, "Act as this user id")
	statePath := flag.String("state", "", "Override identity state path")
	pretty := flag.Bool("pretty", false, "Pretty print JSON response")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		return
	}
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	}
	if *timeout > 0 {
		cfg.Timeout = *timeout
	}
	if *statePath != "" {
		cfg.StatePath = *statePath
	}
	if *pretty {
		trueValue := true
		cfg.PrettyJSON = &trueValue
	}

	identity, err := state.Load(cfg.StatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load identity state failed: %v\n", err)
		return
	}
	if *userID > 0 {
		identity.UserID = *userID
	}

	client := httpclient.New(cfg.BaseURL, cfg.Timeout, func() int64 {
		return identity.UserID
	})

	session := repl.New(client, command.Registry(), &identity, cfg.StatePath, cfg.PrettyJSON != nil && *cfg.PrettyJSON, os.Stdout)
	session.Run(context.Background(), os.Stdin)
}
