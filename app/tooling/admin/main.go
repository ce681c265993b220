// This program performs administrative tasks for a provenance node:
// validator key generation and genesis file initialization.
package main

import (
	"github.com/birthmark/provenance/app/tooling/admin/cmd"
)

func main() {
	cmd.Execute()
}
