package executor

import (
	"errors"

	"github.com/coremesh/coremesh/internal/corerr"
)

var errNameRequired = errors.New("executor: name is required")

// ErrAlreadyInitialized is returned when Start or Shutdown is attempted a
// second time; every lifecycle transition is a one-shot compare-and-swap.
var ErrAlreadyInitialized = corerr.New(corerr.IllegalState, "executor", errors.New("can only be started/shutdown once"))
