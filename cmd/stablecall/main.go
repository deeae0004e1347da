// Command stablecall deploys and drives upgradeable proxies.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/stablecall/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
