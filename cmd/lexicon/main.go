// Command lexicon labels equipment images with a vision model.
package main

import (
	"os"

	"lexicon-go/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
