package retrieval

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// TokenEncoding is the encoding used when chunks are measured in tokens.
const TokenEncoding = "cl100k_base"

// TokenLength returns a LengthFunc counting cl100k_base tokens.
func TokenLength() (LengthFunc, error) {
	enc, err := tiktoken.GetEncoding(TokenEncoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s encoding: %w", TokenEncoding, err)
	}
	return func(s string) int {
		return len(enc.Encode(s, nil, nil))
	}, nil
}
