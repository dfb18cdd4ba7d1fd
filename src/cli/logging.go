package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/thought-machine/go-flags"
	"gopkg.in/op/go-logging.v1"
)

// A Verbosity is used as a flag to define logging verbosity.
// It accepts either a level name ("debug", "notice", ...) or a number (0 = error, 4 = debug).
type Verbosity logging.Level

// MinVerbosity is the minimum verbosity we support.
const MinVerbosity = Verbosity(logging.ERROR)

// MaxVerbosity is the maximum verbosity we support.
const MaxVerbosity = Verbosity(logging.DEBUG)

// UnmarshalFlag implements flag parsing.
func (v *Verbosity) UnmarshalFlag(in string) error {
	if i, err := strconv.Atoi(in); err == nil {
		if i < 0 || i > int(MaxVerbosity-MinVerbosity) {
			return &flags.Error{Type: flags.ErrMarshal, Message: fmt.Sprintf("Verbosity %d is out of range", i)}
		}
		*v = Verbosity(i) + MinVerbosity
		return nil
	}
	level, err := logging.LogLevel(in)
	if err != nil {
		return flagsError(err)
	}
	*v = Verbosity(level)
	return nil
}

// InitLogging initialises logging backends at the given verbosity.
func InitLogging(verbosity Verbosity) {
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	formatted := logging.NewBackendFormatter(backend, logFormatter())
	leveled := logging.AddModuleLevel(formatted)
	leveled.SetLevel(logging.Level(verbosity), "")
	logging.SetBackend(leveled)
}

func logFormatter() logging.Formatter {
	return logging.MustStringFormatter("%{time:15:04:05.000} %{level:7s}: %{module}: %{message}")
}
