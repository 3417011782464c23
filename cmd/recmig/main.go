// Command recmig runs record-migration pipelines and converts fixed-width
// exports to CSV.
package main

import (
	"fmt"
	"os"

	// register every storage backend and stage kind; the pipeline file picks.
	_ "recmig/internal/stages"
	_ "recmig/internal/storage/all"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "recmig: %v\n", err)
		os.Exit(1)
	}
}
