package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/arklim/zk-tenant-iam/internal/infra/app"
	"github.com/arklim/zk-tenant-iam/internal/infra/config"
)

type options struct {
	envFiles    []string
	version     bool
	checkConfig bool
}

// parseOptions reads the command line. Without -env-file a .env in the working directory is
// loaded when present.
func parseOptions(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("api", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Func("env-file", "dotenv file to load before reading config; repeatable", func(path string) error {
		opts.envFiles = append(opts.envFiles, path)
		return nil
	})
	fs.BoolVar(&opts.version, "version", false, "print the build version and exit")
	fs.BoolVar(&opts.checkConfig, "check-config", false, "validate configuration and exit")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	return opts, nil
}

// loadEnv loads the requested files; a missing default .env is not an error.
func loadEnv(files []string) error {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}
	return godotenv.Load(files...)
}

func main() {
	opts, err := parseOptions(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("parse flags: %v", err)
	}
	if opts.version {
		fmt.Println(app.Version)
		return
	}
	if err := loadEnv(opts.envFiles); err != nil {
		log.Fatalf("load env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if opts.checkConfig {
		fmt.Printf("config ok: env=%s http=%s:%d\n", cfg.App.Env, cfg.App.Host, cfg.App.Port)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	if err := application.Run(ctx); err != nil {
		log.Printf("application stopped: %v", err)
		os.Exit(1)
	}
}
