// Ошибки клиента апстрима — закрытый набор вариантов.
// Любой сбой вызова — ровно один из них:
//   - *Error — апстрим ответил не-2xx;
//   - *TransportError — ответа не было (таймаут, сеть, отменённый контекст).
//
// Вызывающая сторона разбирает их через errors.As; других типов
// клиент не возвращает.
package upstream

import "fmt"

// Error — ошибка, о которой сообщил сам апстрим.
// Status — HTTP-статус апстрима, Message — его message (или безопасный
// фолбэк), Errors — пополевые ошибки валидации, если апстрим их прислал.
type Error struct {
	Status  int
	Message string
	Errors  map[string][]string
}

func (e *Error) Error() string {
	return fmt.Sprintf("upstream: status %d: %s", e.Status, e.Message)
}

// TransportError — сбой до получения ответа апстрима: таймаут,
// обрыв соединения, DNS. Несёт исходную причину, но наружу
// (в тело ответа клиенту) её текст никогда не попадает.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upstream: transport: %v", e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }
