package validation

import "regexp"

const (
	// Amount limits (KES)
	MinTransactionAmount = 1
	MaxTransactionAmount = 1000000
	MinTopUpAmount       = 10

	// String lengths
	MaxDescriptionLength = 500
	MaxReferenceLength   = 100
)

var (
	// Kenyan mobile numbers in any of the common spellings:
	// 07XXXXXXXX, 01XXXXXXXX, 2547XXXXXXXX, +2547XXXXXXXX
	phoneRegex = regexp.MustCompile(`^(\+?254|0)(7|1)\d{8}$`)

	pinRegex = regexp.MustCompile(`^\d{4}$`)
)
