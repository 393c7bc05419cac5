package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"

	"cacheproxy/internal/blacklist"
	"cacheproxy/internal/config"
	"cacheproxy/internal/engine"
	"cacheproxy/internal/logging"
)

func main() {
	var configFile = flag.String("config", "", "config file")
	flag.Parse()

	if *configFile == "" {
		panic("config file arg is required!")
	}

	if err := os.Setenv("TZ", "UTC"); err != nil {
		panic(fmt.Errorf("failed to set TZ: %v", err))
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		panic(fmt.Errorf("failed to load config: %v", err))
	}

	log, err := logging.NewDefaultLogger(logging.LogLevel(strings.ToUpper(cfg.Logger.Level)), cfg.Logger.File)
	if err != nil {
		panic(fmt.Errorf("failed to open log: %v", err))
	}
	log.Log(logging.LogLevelInfo, "loaded config from %s", *configFile)

	dropPrivileges(log)
	log.Log(logging.LogLevelInfo, "dropped process privileges")

	banned := blacklist.Parse(cfg.Blacklist)
	log.Log(logging.LogLevelDebug, "blacklist has %d entries, cache has %d slots", len(banned), cfg.Server.CacheEntries)
	e := engine.New(cfg.Server.Port, cfg.Server.CacheEntries, log, banned)

	if err := e.Run(context.Background()); err != nil {
		fmt.Printf("failed to run proxy: %v\n", err)
		os.Exit(1)
	}
}

// dropPrivileges gives up any elevated group/user id the process was
// started with, exiting if it cannot.
func dropPrivileges(log logging.Logger) {
	if err := syscall.Setgid(syscall.Getgid()); err != nil {
		log.Log(logging.LogLevelError, "failed to drop group privileges: %v", err)
		os.Exit(1)
	}
	if err := syscall.Setuid(syscall.Getuid()); err != nil {
		log.Log(logging.LogLevelError, "failed to drop user privileges: %v", err)
		os.Exit(1)
	}
}
