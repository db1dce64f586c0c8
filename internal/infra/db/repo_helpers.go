package db

import (
	"fmt"

	"github.com/codebatai/pf-verify/internal/domain"
)

var errDBUnavailable = fmt.Errorf("%w: database not configured", domain.ErrUnavailable)

func stringPtrIfNotEmpty(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func stringValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
