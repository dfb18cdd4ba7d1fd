package retry

import "fmt"

// A NetworkOutcomeError is returned when the server responds in a way that we won't retry.
type NetworkOutcomeError struct {
	Name       string
	StatusCode int
	Class      Class
	// Message is the custom message registered for the status code, or a generic one.
	Message  string
	Attempts int
}

func (err *NetworkOutcomeError) Error() string {
	return fmt.Sprintf("%s failed: %s", err.Name, err.Message)
}

// An ExhaustedRetriesError is returned when every attempt at a call has failed transiently.
type ExhaustedRetriesError struct {
	Name     string
	Attempts int
	// StatusCode is the status of the last response, or zero if the last attempt got no response.
	StatusCode int
	// Err is the error from the last attempt, if it got no response.
	Err error
}

func (err *ExhaustedRetriesError) Error() string {
	if err.Err != nil {
		return fmt.Sprintf("%s failed after %d attempts: %s", err.Name, err.Attempts, err.Err)
	}
	return fmt.Sprintf("%s failed after %d attempts: Artifact service responded with %d", err.Name, err.Attempts, err.StatusCode)
}

func (err *ExhaustedRetriesError) Unwrap() error {
	return err.Err
}
