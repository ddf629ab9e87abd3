package browser

import (
	"context"
	"errors"
	"fmt"
)

// mapContextErr turns a context error from a bounded operation into the
// package's error kinds.
func mapContextErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
