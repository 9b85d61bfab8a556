package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/talkincode/walink/config"
	"github.com/talkincode/walink/internal/app"
	"github.com/talkincode/walink/internal/webapi"
	"github.com/talkincode/walink/internal/webserver"
	"go.uber.org/zap"
)

var (
	h        = flag.Bool("h", false, "help usage")
	showVer  = flag.Bool("v", false, "show version")
	conffile = flag.String("c", "", "config yaml file")
	initdb   = flag.Bool("initdb", false, "drop and recreate all tables")
	initcfg  = flag.Bool("initcfg", false, "write default config file and exit")
)

var (
	// set at build time
	BuildVersion = "dev"
)

func printHelp() {
	if *h {
		ustr := fmt.Sprintf("walink version: %s\nUsage: walink -h\nOptions:", BuildVersion)
		fmt.Fprintln(os.Stderr, ustr)
		flag.PrintDefaults()
		os.Exit(0)
	}
}

func main() {
	flag.Parse()
	printHelp()

	if *showVer {
		fmt.Println(BuildVersion)
		os.Exit(0)
	}

	cfg := config.LoadConfig(*conffile)

	if *initcfg {
		if err := writeDefaultConfig(); err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		os.Exit(0)
	}

	application := app.NewApplication(cfg)
	application.Init(cfg)
	defer application.Release()

	if *initdb {
		application.InitDb()
		zap.S().Info("database initialized")
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application.StartBackgroundJobs(ctx)

	webapi.Init(&webapi.Deps{
		Config:   cfg,
		Sessions: application.Sessions(),
		Pipeline: application.Pipeline(),
		Bulk:     application.BulkDispatcher(),
		Roster:   application.Syncer(),
	})
	server := webserver.Init(cfg, application.DB())

	errchan := make(chan error, 1)
	go func() {
		errchan <- server.Start()
	}()

	select {
	case <-ctx.Done():
		zap.S().Info("shutdown signal received")
		_ = server.Close()
	case err := <-errchan:
		zap.S().Errorf("webserver stopped: %v", err)
	}
}

func writeDefaultConfig() error {
	path := "walink.yml"
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("refusing to overwrite existing %s", path)
	}
	data, err := config.DefaultAppConfig.Yaml()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
