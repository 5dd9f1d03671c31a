package main

import (
	"log"
	"os"

	"github.com/arklim/zk-tenant-iam/internal/tools/zkctl"
)

func main() {
	cfg, err := zkctl.ParseConfig(os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	if err := zkctl.Run(cfg, os.Stdout, nil); err != nil {
		log.Fatalf("%s: %v", cfg.Command, err)
	}
}
