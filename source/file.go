package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/arloliu/sharder/types"
)

// File reads the shard count from a text file holding a single integer.
//
// The file is re-read on every call, so an operator can change the shard
// count by rewriting the file. Surrounding whitespace is ignored.
type File struct {
	path string
}

var _ types.ShardCountSource = (*File)(nil)

// NewFile creates a source backed by the file at path.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the file path.
func (f *File) Path() string {
	return f.path
}

// ShardCount reads and parses the file.
//
// Returns:
//   - int: The parsed shard count
//   - error: ErrShardCountUnavailable when the file is missing or unreadable,
//     ErrInvalidShardCount when its content is not a non-negative integer
func (f *File) ShardCount(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s does not exist", types.ErrShardCountUnavailable, f.path)
		}

		return 0, fmt.Errorf("%w: %w", types.ErrShardCountUnavailable, err)
	}

	return parseCount(data)
}
