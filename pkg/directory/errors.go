package directory

import "errors"

var (
	// errEmptyCommand reports an EXEC against a file with no command line.
	errEmptyCommand = errors.New("empty command")

	// errUnsafeCommand reports a command line containing shell
	// metacharacters, which the restricted runner refuses.
	errUnsafeCommand = errors.New("command contains shell metacharacters")
)
