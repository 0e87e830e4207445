package capture

import "fmt"

// DirectoryError reports that the output directory could not be created.
type DirectoryError struct {
	Path string
	Err  error
}

func (e *DirectoryError) Error() string {
	return fmt.Sprintf("unable to create output directory %s: %v", e.Path, e.Err)
}

func (e *DirectoryError) Unwrap() error { return e.Err }

// DeviceOpenError reports that the video source could not be opened.
type DeviceOpenError struct {
	Index int
	Err   error
}

func (e *DeviceOpenError) Error() string {
	return fmt.Sprintf("cannot open camera index %d: %v", e.Index, e.Err)
}

func (e *DeviceOpenError) Unwrap() error { return e.Err }

// WriteError reports that a captured frame could not be encoded or written.
// The image index is not advanced when this happens.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
