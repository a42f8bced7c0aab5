package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path"

	"github.com/google/subcommands"

	"PriceKeeper/internal/config"
	"PriceKeeper/internal/service"
)

var configPath = flag.String("config", "configs/config.yaml", "path to the YAML config (CONFIG_PATH overrides)")

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(&serveCmd{}, "")
	commander.Register(&refreshCmd{}, "data")
	commander.Register(&trackCmd{}, "data")
	commander.Register(&splitCmd{}, "data")
	commander.Register(&runsCmd{}, "data")
	commander.Register(&historyCmd{}, "query")
	commander.Register(&queryCmd{}, "query")
	commander.Register(&templatesCmd{}, "query")
	commander.Register(&priceCmd{}, "query")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}

func loadConfig() (*config.Config, error) {
	p := *configPath
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		p = v
	}
	cfg, err := config.Load(p)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openService loads the config and wires the service, logging failures.
func openService(ctx context.Context) (*config.Config, *service.Service, bool) {
	cfg, err := loadConfig()
	if err != nil {
		log.Printf("[ERROR] config: %v", err)
		return nil, nil, false
	}
	svc, err := service.Open(ctx, cfg)
	if err != nil {
		log.Printf("[ERROR] open: %v", err)
		return nil, nil, false
	}
	return cfg, svc, true
}
