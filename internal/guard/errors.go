package guard

import "errors"

// ErrAgentNotFound возвращается любой операцией по незарегистрированному
// агенту. Не глотается даже в Authorize: вызов по несуществующему агенту —
// ошибка программирования вызывающей стороны, а не решение «запрещено».
var ErrAgentNotFound = errors.New("guard: agent not found")

// ErrInvalidArgument — конфигурационные ошибки вызывающей стороны
// (пустой кошелек, пустой тип действия). Пробрасываются наружу.
var ErrInvalidArgument = errors.New("guard: invalid argument")
