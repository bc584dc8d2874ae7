package main

import (
	"context"
	"os"

	"github.com/signalsfoundry/gridworld-simulator/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:]))
}
