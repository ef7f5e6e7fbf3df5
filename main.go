package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"sfvip-launcher/work/accounts"
	"sfvip-launcher/work/config"
	"sfvip-launcher/work/logger"
	"sfvip-launcher/work/mitm"
	"sfvip-launcher/work/supervisor"
	"sfvip-launcher/work/userconf"
)

var (
	Version = "v0.1.0" // default version
)

// our main app worker
func main() {

	// the same binary is both the supervisor and the interception engine
	if len(os.Args) > 1 && os.Args[1] == mitm.EngineSubcommand {
		os.Exit(mitm.RunEngine(os.Stdin, os.Stdout))
	}

	configPath := flag.String("config", defaultConfigPath(), "configuration file")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Println("sfvip-launcher", Version)
		return
	}

	// load our config
	cfg := config.Load(*configPath)

	// set up rotating file logging
	fileLogger := logger.NewWithFile(cfg.LogLevel, cfg.LogPath())
	logger.SetDefault(fileLogger)
	logger.Info("sfvip-launcher %s starting", Version)

	sup, err := supervisor.New(cfg, userconf.System(), supervisor.Hooks{})
	if err != nil {
		fatal(err)
	}
	defer sup.Close()

	if err := sup.Run(); err != nil {
		fatal(err)
	}
	logger.Info("sfvip-launcher: clean exit")
}

// fatal reports a bubbled launch-cycle error and exits non-zero.
func fatal(err error) {
	switch {
	case errors.Is(err, accounts.ErrConfigNotFound):
		logger.Error("player configuration directory not found; set playerConfigDir in the config file")
	case errors.Is(err, supervisor.ErrPlayerNotFound):
		logger.Error("player binary not found; set playerPath in the config file")
	case errors.Is(err, supervisor.ErrCantStartProxies):
		logger.Error("proxy listeners did not start: %v", err)
	default:
		logger.Error("%v", err)
	}
	os.Exit(1)
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(dir, "sfvip-launcher", "config.json")
}
