package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/roach88/causality/internal/ir"
)

// Source is a program text read from disk or stdin.
type Source struct {
	Path string
	Text string
}

// LoadError reports a source that could not be read. It is a usage error.
type LoadError struct {
	Path    string
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Category implements ir.Categorized.
func (e *LoadError) Category() ir.Category { return ir.CategoryValidation }

// LoadSource reads a program. The path "-" reads stdin.
func LoadSource(path string, stdin io.Reader) (*Source, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		var info os.FileInfo
		if info, err = os.Stat(path); err == nil && info.IsDir() {
			return nil, &LoadError{Path: path, Message: "is a directory"}
		}
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, &LoadError{Path: path, Message: "read failed", Err: err}
	}
	if len(data) == 0 {
		return nil, &LoadError{Path: path, Message: "empty source"}
	}
	return &Source{Path: path, Text: string(data)}, nil
}
