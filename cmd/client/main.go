package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dmitrijs2005/notesync/internal/client/cli"
)

func main() {
	app := cli.NewApp()
	if err := cli.Execute(context.Background(), app, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
