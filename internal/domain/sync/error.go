package sync

import "errors"

var (
	// ErrInvalidArgument малформированный вход; не ретраится
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidRecord запись не прошла валидацию перед доставкой
	ErrInvalidRecord = errors.New("invalid record")

	// ErrInvalidStateTransition мутация из терминального или
	// несовместимого статуса; ошибка программирования
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrBatchSizeExceeded пакет больше настроенного лимита
	ErrBatchSizeExceeded = errors.New("batch size exceeded")

	// ErrBatchProcessingFailed часть записей пакета не доставлена;
	// успешные записи при этом сохраняют статус completed
	ErrBatchProcessingFailed = errors.New("batch processing failed")

	// ErrCircuitOpen предохранитель открыт, доставка не выполнялась
	ErrCircuitOpen = errors.New("circuit open")

	// ErrConflictDetected версия в хранилище не совпала с ожидаемой
	ErrConflictDetected = errors.New("conflict detected")

	// ErrRecordNotFound запись не найдена
	ErrRecordNotFound = errors.New("record not found")

	// ErrBatchNotFound пакет не найден
	ErrBatchNotFound = errors.New("batch not found")
)
