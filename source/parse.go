package source

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/arloliu/sharder/types"
)

// parseCount parses a trimmed, non-negative decimal integer.
func parseCount(data []byte) (int, error) {
	text := string(bytes.TrimSpace(data))
	if text == "" {
		return 0, fmt.Errorf("%w: empty value", types.ErrInvalidShardCount)
	}

	n, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", types.ErrInvalidShardCount, text)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: %d is negative", types.ErrInvalidShardCount, n)
	}

	return n, nil
}
