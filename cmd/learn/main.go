// Command learn is the continuous-learning pipeline CLI: it records agent
// observations, distils them into instincts and evolves high-confidence
// instincts into skills, commands and agents.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := Execute(ctx)
	stop()
	os.Exit(code)
}
