package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joshyorko/dudley-ci/internal/ci"
	"github.com/joshyorko/dudley-ci/internal/podman"
)

var version = "dev"

func main() {
	// Create a context that cancels on interrupt signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle interrupt signals (SIGINT, SIGTERM)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		cancel()
	}()

	if err := ExecuteWithContext(ctx); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

// printError prints err followed by the output of the tool that failed
func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %s\n", censor.Censor(err.Error()))

	var lintErr *ci.LintError
	if errors.As(err, &lintErr) {
		if len(lintErr.Findings) > 0 {
			fmt.Fprintf(w, "\nhadolint findings:\n")
			for _, f := range lintErr.Findings {
				fmt.Fprintf(w, "  %s\n", f)
			}
			return
		}
	}

	// ValidationError already carries the check output in its message
	var validationErr *ci.ValidationError
	if errors.As(err, &validationErr) {
		return
	}

	var podmanErr *podman.PodmanError
	if errors.As(err, &podmanErr) {
		if out := strings.TrimSpace(podmanErr.Stdout); out != "" {
			fmt.Fprintf(w, "\nPodman output:\n  %s\n", censor.Censor(out))
		}
	}
}
