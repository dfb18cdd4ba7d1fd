package uploadspec

import "fmt"

// A ValidationError is returned when an artifact name or file path would be rejected,
// or a file lies outside the root directory.
type ValidationError struct {
	// Name is the offending artifact name, if it was the name that failed.
	Name string
	// Path is the offending file path, if it was a path that failed.
	Path   string
	Reason string
}

func (err *ValidationError) Error() string {
	if err.Path != "" {
		return fmt.Sprintf("Invalid file path %q: %s", err.Path, err.Reason)
	}
	return fmt.Sprintf("Invalid artifact name %q: %s", err.Name, err.Reason)
}

// A NotFoundError is returned when the root directory or one of the files doesn't exist.
type NotFoundError struct {
	Path string
	What string
	// NotDirectory is set when the path exists but is not a directory.
	NotDirectory bool
}

func (err *NotFoundError) Error() string {
	if err.NotDirectory {
		return fmt.Sprintf("Provided %s %s is not a valid directory", err.What, err.Path)
	}
	return fmt.Sprintf("Provided %s %s does not exist", err.What, err.Path)
}
