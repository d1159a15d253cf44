// Command capsule is the entry point for Capsule's CLI: run plans, drive
// agent loops, replay and report on past runs, and lint policy documents.
package main

import (
	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/cli"
)

func main() {
	cli.Execute()
}
