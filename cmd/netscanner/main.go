// Netscanner discovers devices on the local IPv4 subnet by combining an active
// probe sweep with mDNS/DNS-SD service discovery.
//
// Usage:
//
//	netscanner scan [flags]
//	netscanner serve [flags]
//	netscanner vendor <mac>...
//	netscanner version
package main

import (
	"fmt"
	"io"
	"os"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	return root.Execute()
}
