package errors

var (
	ErrConfigurationMissing = &DomainError{
		Code:    "CONFIGURATION_MISSING",
		Message: "gateway configuration is incomplete",
	}
	ErrGatewayFailure = &DomainError{
		Code:    "GATEWAY_FAILURE",
		Message: "payment gateway request failed",
	}
)
