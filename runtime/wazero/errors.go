package wazero

import "errors"

var (
	ErrRequiredFunctionNotExported = errors.New("required function not exported")
	ErrABIVersionMarkerNotExported = errors.New("required ABI version marker not exported")
	ErrSignatureMismatch           = errors.New("exported function has the wrong signature")
	ErrMemoryNotExported           = errors.New("memory not exported")
)
