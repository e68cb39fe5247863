// Package main provides the entry point for the bhakti server.
package main

import (
	"os"

	"github.com/bhakti-db/bhakti/cmd/bhakti/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
