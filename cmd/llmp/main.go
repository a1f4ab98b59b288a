package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/binarymax/llm-primitives/pkg/config"
	"github.com/binarymax/llm-primitives/pkg/store"
	"github.com/binarymax/llm-primitives/pkg/store/postgres"
	"github.com/binarymax/llm-primitives/pkg/store/sqlite"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "llmp",
		Short:   "llmp — typed LLM primitives with a memoizing completion store",
		Version: version,
	}

	root.AddCommand(
		newAskCmd(),
		newCostCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		return postgres.Open(cfg.Store.DSN)
	default:
		return sqlite.Open(cfg.Store.Path)
	}
}
