package policy

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseWindow разбирает человекочитаемое окно времени в секунды.
// Грамматика: <положительное целое><h|d>, регистр юнита не важен.
//
//	"1h"  -> 3600
//	"24h" -> 86400
//	"7d"  -> 604800
//
// Любая другая форма (пустая строка, "abc", "-5h", "0d", "5x", "24") —
// ErrInvalidWindow с исходным токеном для диагностики.
func ParseWindow(window string) (int64, error) {
	token := strings.ToLower(window)
	if len(token) < 2 {
		return 0, fmt.Errorf("%w: %q (expected <number><h|d>, e.g. \"24h\")", ErrInvalidWindow, window)
	}

	unit := token[len(token)-1]
	// ParseUint не пропускает знак и пробелы, так что "-5h" и "+5h" отпадают сами.
	// 32 бита на счетчик, чтобы умножение на 86400 гарантированно не переполнило int64.
	count, err := strconv.ParseUint(token[:len(token)-1], 10, 32)
	if err != nil || count == 0 {
		return 0, fmt.Errorf("%w: %q (expected <number><h|d>, e.g. \"24h\")", ErrInvalidWindow, window)
	}

	switch unit {
	case 'h':
		return int64(count) * 3600, nil
	case 'd':
		return int64(count) * 86400, nil
	default:
		return 0, fmt.Errorf("%w: %q (unknown unit %q)", ErrInvalidWindow, window, string(unit))
	}
}
