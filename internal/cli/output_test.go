package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/causality/internal/compiler"
	"github.com/roach88/causality/internal/ir"
)

type categorized struct{ c ir.Category }

func (c categorized) Error() string         { return "categorized" }
func (c categorized) Category() ir.Category { return c.c }

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"exit error", NewExitError(ExitFailure, "failed"), ExitFailure},
		{"wrapped exit error", fmt.Errorf("outer: %w", NewExitError(ExitBoundary, "x")), ExitBoundary},
		{"validation", categorized{ir.CategoryValidation}, ExitValidation},
		{"resource state", categorized{ir.CategoryResourceState}, ExitResourceState},
		{"boundary", categorized{ir.CategoryBoundary}, ExitBoundary},
		{"plain", errors.New("boom"), ExitInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCodeFor(tt.err))
		})
	}
}

func TestErrorCode(t *testing.T) {
	_, err := compiler.Compile("(let")
	require.Error(t, err)
	assert.Equal(t, "PARSE_ERROR", ErrorCode(err))

	assert.Equal(t, "LOAD_ERROR", ErrorCode(&LoadError{Path: "x", Message: "missing"}))
	assert.Equal(t, "USAGE", ErrorCode(NewExitError(ExitValidation, "bad flag")))
	assert.Equal(t, "INTERNAL", ErrorCode(errors.New("boom")))
}

func TestOutputFormatter_Success(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}
	require.NoError(t, f.Success(map[string]int{"n": 1}, nil))

	var data map[string]int
	resp := decodeResponse(t, buf.String(), &data)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, data["n"])

	buf.Reset()
	f.Format = "text"
	require.NoError(t, f.Success(nil, func(w io.Writer) { fmt.Fprint(w, "hello") }))
	assert.Equal(t, "hello", buf.String())
}

func TestOutputFormatter_Fail(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}
	err := f.Fail("load", &LoadError{Path: "p.cl", Message: "empty source"}, map[string]string{"k": "v"})

	require.Error(t, err)
	assert.Equal(t, ExitValidation, ExitCodeFor(err))
	resp := decodeResponse(t, buf.String(), nil)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "LOAD_ERROR", resp.Error.Code)
	assert.Equal(t, "validation", resp.Error.Category)
	assert.Equal(t, "p.cl: empty source", resp.Error.Message)

	buf.Reset()
	f.Format = "text"
	_ = f.Fail("load", errors.New("boom"), nil)
	assert.Contains(t, buf.String(), "load")
	assert.Contains(t, buf.String(), "[INTERNAL] boom")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: out, ErrWriter: errOut}
	f.VerboseLog("quiet")
	assert.Empty(t, errOut.String())

	f.Verbose = true
	f.VerboseLog("step %d", 1)
	assert.Equal(t, "step 1\n", errOut.String())
	assert.Empty(t, out.String())
}

func TestLoadSource(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "p.cl", "(pure 1)")

	src, err := LoadSource(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "(pure 1)", src.Text)

	src, err = LoadSource("-", strings.NewReader("(pure 2)"))
	require.NoError(t, err)
	assert.Equal(t, "-", src.Path)
	assert.Equal(t, "(pure 2)", src.Text)
}

func TestLoadSource_Rejects(t *testing.T) {
	dir := t.TempDir()
	empty := writeFile(t, dir, "empty.cl", "")

	tests := []struct {
		name string
		path string
		want string
	}{
		{"directory", dir, "is a directory"},
		{"missing", dir + string(os.PathSeparator) + "missing.cl", "read failed"},
		{"empty", empty, "empty source"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadSource(tt.path, nil)
			require.Error(t, err)
			var le *LoadError
			require.ErrorAs(t, err, &le)
			assert.Contains(t, le.Message, tt.want)
			assert.Equal(t, ir.CategoryValidation, ir.CategoryOf(err))
		})
	}
}

func TestParseHandlers(t *testing.T) {
	hs, err := parseHandlers([]string{"f=incr", "g=const:7"})
	require.NoError(t, err)
	require.Len(t, hs, 2)
	assert.Equal(t, "f", hs[0].Tag)
	assert.Equal(t, "incr", hs[0].Op)
	assert.Equal(t, "const", hs[1].Op)
	assert.Equal(t, int64(7), hs[1].Value)

	for _, bad := range []string{"f", "=incr", "f=nope", "f=const:x"} {
		_, err := parseHandlers([]string{bad})
		require.Error(t, err, bad)
		assert.Equal(t, ExitValidation, ExitCodeFor(err), bad)
	}
}
