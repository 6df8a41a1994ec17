package main

import (
	"os"

	"github.com/nunalabs/astro-swap-sub000/cmd/indexer/cmd"
)

func main() {
	if err := cmd.RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
