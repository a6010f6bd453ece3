package kcore

import (
	"errors"
	"fmt"
	"strings"
)

// SymbolNotFoundError reports that none of the attempted symbol or constant
// names exist on the inspected kernel build. Callers distinguish it from
// read failures with errors.As.
type SymbolNotFoundError struct {
	Names []string
}

func (e *SymbolNotFoundError) Error() string {
	if len(e.Names) == 1 {
		return fmt.Sprintf("symbol not found: %s", e.Names[0])
	}
	return fmt.Sprintf("symbol not found (tried %s)", strings.Join(e.Names, ", "))
}

// LookupConstant tries each candidate constant name in order and returns the
// first value found. Kernel releases rename constants; callers list the names
// newest-last or oldest-last as the subsystem requires. If every candidate is
// missing, the returned error is a *SymbolNotFoundError naming all of them;
// any other lookup failure is returned as-is.
func LookupConstant(k Kernel, names ...string) (uint64, error) {
	for _, name := range names {
		v, err := k.Constant(name)
		if err == nil {
			return v, nil
		}
		var notFound *SymbolNotFoundError
		if !errors.As(err, &notFound) {
			return 0, err
		}
	}
	return 0, &SymbolNotFoundError{Names: names}
}
