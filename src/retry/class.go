package retry

import "fmt"

// A Class is the category an outcome of a call falls into.
type Class int

const (
	// Success is any 2xx response.
	Success Class = iota
	// Throttled means the server is rate limiting us (429); we wait as long as it tells us to.
	Throttled
	// Forbidden (403) is treated as a permanent authorisation failure.
	Forbidden
	// Retryable responses are transient server errors that are worth another go.
	Retryable
	// NonRetryable is anything else, which fails immediately.
	NonRetryable
	// TransportException means no response was received at all.
	TransportException
)

func (c Class) String() string {
	switch c {
	case Success:
		return "success"
	case Throttled:
		return "throttled"
	case Forbidden:
		return "forbidden"
	case Retryable:
		return "retryable"
	case NonRetryable:
		return "non-retryable"
	case TransportException:
		return "transport exception"
	}
	return fmt.Sprintf("unknown(%d)", int(c))
}
