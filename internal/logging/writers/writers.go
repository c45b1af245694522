// Package writers opens the log destinations named in the configuration.
package writers

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// WriterType represents the kind of log destination.
type WriterType string

const (
	WriterTypeStdout WriterType = "stdout"
	WriterTypeStderr WriterType = "stderr"
	WriterTypeFile   WriterType = "file"
)

const filePrefix = "file://"

// stdStream wraps os.Stdout or os.Stderr so Close leaves the stream open.
type stdStream struct {
	io.Writer
}

func (stdStream) Close() error { return nil }

// CreateWriter opens the destination named by output:
//   - "" or "stdout"
//   - "stderr"
//   - "file:///path/to/file" or a bare path containing a separator
//
// Files are created with their parent directories and opened for append. Closing
// a stdout or stderr writer is a no-op.
func CreateWriter(output string) (io.WriteCloser, error) {
	switch ParseWriterType(output) {
	case WriterTypeStdout:
		return stdStream{os.Stdout}, nil
	case WriterTypeStderr:
		return stdStream{os.Stderr}, nil
	}

	if !isFilePath(output) {
		return nil, fmt.Errorf("unsupported log output: %s", output)
	}
	return createFileWriter(strings.TrimPrefix(output, filePrefix))
}

// Validate reports whether output names a destination CreateWriter accepts,
// without opening it.
func Validate(output string) error {
	if ParseWriterType(output) != WriterTypeFile || isFilePath(output) {
		return nil
	}
	return fmt.Errorf("unsupported log output: %s", output)
}

func isFilePath(path string) bool {
	if strings.HasPrefix(path, filePrefix) {
		return len(path) > len(filePrefix)
	}
	if strings.Contains(path, "://") {
		return false
	}
	return strings.ContainsAny(path, `/\`)
}

func createFileWriter(filePath string) (*os.File, error) {
	dir := filepath.Dir(filePath)
	if dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
		}
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", filePath, err)
	}
	return file, nil
}

// ParseWriterType classifies an output string. Anything that is not stdout or
// stderr is treated as a file.
func ParseWriterType(output string) WriterType {
	switch output {
	case "", "stdout":
		return WriterTypeStdout
	case "stderr":
		return WriterTypeStderr
	default:
		return WriterTypeFile
	}
}
