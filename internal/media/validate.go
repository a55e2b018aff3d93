package media

import "fmt"

// ValidationError indicates a file was rejected before any backend work
// began. These are fatal for the file; they are reported immediately and
// never retried.
type ValidationError struct {
	Filename string
	Reason   string
}

func (err ValidationError) Error() string {
	return fmt.Sprintf("file '%s' rejected: %s", err.Filename, err.Reason)
}

// Validate checks a file is admissible to the pipeline: it must be
// non-empty and carry a supported container extension.
func Validate(file *File) error {
	if file.Size() == 0 {
		return ValidationError{Filename: file.Name(), Reason: "file is empty"}
	}

	if FamilyForExtension(file.Extension()) == FamilyUnknown {
		return ValidationError{
			Filename: file.Name(),
			Reason:   fmt.Sprintf("unrecognized container extension '.%s'", file.Extension()),
		}
	}

	return nil
}
