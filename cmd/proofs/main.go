package main

import (
	"context"
	"errors"
	"log"
	"os"

	kacheri "github.com/beylesys/Kacheri-sub002"
	"github.com/beylesys/Kacheri-sub002/internal/cli"
)

func main() {
	os.Exit(run(context.Background()))
}

func run(ctx context.Context) int {
	sub, err := kacheri.Open(ctx)
	if err != nil {
		log.Printf("startup failed: %v", err)
		return cli.ExitCommandError
	}
	defer sub.Close()

	app := &cli.App{
		Scanner:      sub.Scanner,
		Replayer:     sub.Replayer,
		Orchestrator: sub.Nightly,
	}

	if err := cli.NewRootCommand(app).Execute(); err != nil {
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			log.Printf("%v", err)
		}
		return cli.GetExitCode(err)
	}
	return cli.ExitSuccess
}
