// The main package for the meterd executable.
package main

import (
	"github.com/openusage/meterd/cmd"
)

func main() {
	cmd.Execute()
}
