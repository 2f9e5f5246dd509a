// Command toxnode runs a toxcore overlay node.
package main

import "github.com/TheusHen/toxcore/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
