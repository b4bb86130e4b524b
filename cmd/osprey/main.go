package main

import (
	"flag"
	"fmt"
	"os"

	"osprey-ptx/core/appbootstrap"
)

func main() {
	configPath := flag.String("config", "", "path to yaml config (env-only when empty)")
	flag.Parse()

	if err := appbootstrap.Run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "osprey: %v\n", err)
		os.Exit(1)
	}
}
