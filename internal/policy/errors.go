package policy

import "errors"

// Ошибки конфигурационного времени. Они никогда не глотаются: неправильно
// заданный лимит должен быть виден тому, кто его задает, а не превращаться
// в тихий отказ в рантайме.
var (
	ErrInvalidWindow = errors.New("invalid time window format")
	ErrInvalidAmount = errors.New("invalid amount")
)
