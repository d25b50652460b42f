/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/Onegaishimas/bin2nlp-sub003/pkg/config"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/server"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file (or BIN2NLP_CONFIG)")
	flag.Parse()

	path := *configPath
	if path == "" {
		path = os.Getenv("BIN2NLP_CONFIG")
	}
	if path != "" {
		if err := config.LoadConfig(path); err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", path, err)
			os.Exit(1)
		}
	}

	app, err := server.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start: %v\n", err)
		os.Exit(1)
	}
	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "server exited: %v\n", err)
		os.Exit(1)
	}
}
