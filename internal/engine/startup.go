package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrNotRunning is returned by EnsureReady when the backend is unreachable.
var ErrNotRunning = errors.New("local inference engine is not running")

// EnsureReady checks that the Engine is reachable and the given models are
// available. Missing models are pulled with progress written to w. Empty
// and repeated model names are skipped.
func EnsureReady(ctx context.Context, e Engine, w io.Writer, models ...string) error {
	if !e.IsRunning(ctx) {
		return fmt.Errorf("%w; start it with: ollama serve", ErrNotRunning)
	}

	seen := make(map[string]bool, len(models))
	for _, model := range models {
		if model == "" || seen[model] {
			continue
		}
		seen[model] = true

		if e.HasModel(ctx, model) {
			fmt.Fprintf(w, "model %s: ready\n", model)
			continue
		}

		fmt.Fprintf(w, "model %s: pulling...\n", model)
		err := e.PullModel(ctx, model, func(p PullProgress) {
			if p.Total > 0 {
				pct := float64(p.Completed) / float64(p.Total) * 100
				fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, pct)
			} else {
				fmt.Fprintf(w, "  %s\n", p.Status)
			}
		})
		if err != nil {
			return fmt.Errorf("pulling model %s: %w", model, err)
		}
		fmt.Fprintf(w, "model %s: ready\n", model)
	}

	return nil
}
