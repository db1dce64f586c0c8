package crypto

import "github.com/codebatai/pf-verify/internal/domain"

// Codec adapts the package functions to the encoder port.
type Codec struct{}

func (Codec) Encode(r domain.Receipt) ([]byte, error) { return EncodeReceipt(r) }
