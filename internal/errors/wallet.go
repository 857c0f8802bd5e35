package errors

var (
	ErrInsufficientBalance = &DomainError{
		Code:    "INSUFFICIENT_BALANCE",
		Message: "insufficient wallet balance",
	}
	ErrInvalidInput = &DomainError{
		Code:    "INVALID_INPUT",
		Message: "invalid input",
	}
	ErrLimitExceeded = &DomainError{
		Code:    "LIMIT_EXCEEDED",
		Message: "operation limit exceeded",
	}
	ErrWalletNotFound = &DomainError{
		Code:    "WALLET_NOT_FOUND",
		Message: "wallet not found",
	}
	ErrWalletNotActive = &DomainError{
		Code:    "WALLET_NOT_ACTIVE",
		Message: "wallet is not active",
	}
	ErrNotAuthorized = &DomainError{
		Code:    "NOT_AUTHORIZED",
		Message: "not authorized for this operation",
	}
	ErrDuplicateOperation = &DomainError{
		Code:    "DUPLICATE_OPERATION",
		Message: "operation was already applied",
	}
	ErrNotFound = &DomainError{
		Code:    "NOT_FOUND",
		Message: "record not found",
	}
)
