package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound — запрошенная сущность (товар, категория, продажа) отсутствует.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientStock — запрошенное количество превышает текущий остаток товара.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidState — операция недопустима в текущем статусе продажи.
	ErrInvalidState = errors.New("invalid state")
	// ErrInvalidOperation — операция нарушает инварианты хранилища (например, отрицательный остаток).
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrValidation — входные данные не прошли проверку полей.
	ErrValidation = errors.New("validation failed")
	// ErrConflict — нарушение уникальности (штрихкод, имя категории).
	ErrConflict = errors.New("conflict")
	// ErrProductInUse — товар нельзя удалить, пока на него ссылаются позиции продаж.
	ErrProductInUse = errors.New("product is referenced by sale lines")

	// Ошибка отсутствия хотя бы одной позиции в продаже.
	ErrLinesRequired = errors.New("sale must contain at least one line")
	// Ошибка некорректного количества в позиции (<= 0).
	ErrLineQtyInvalid = errors.New("line quantity must be greater than zero")
	// Ошибка неподдерживаемого способа оплаты.
	ErrPaymentMethodInvalid = errors.New("payment method must be one of CASH, CARD, MOBILE")
	// Ошибка неположительной цены товара.
	ErrPriceInvalid = errors.New("price must be greater than zero")
	// Ошибка цены, не помещающейся в денежную колонку.
	ErrPriceTooLarge = errors.New("price must not exceed 99999999.99")
	// Ошибка отрицательного остатка при создании/редактировании товара.
	ErrStockNegative = errors.New("stock quantity must be non-negative")
	// Ошибка отсутствующего имени.
	ErrNameRequired = errors.New("name is required")

	// ErrIdempotencyKeyRequired — не передан idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — не вычислен hash запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists — запрос с таким ключом уже принят.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ переиспользован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound — запись по ключу отсутствует.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// Сущности для NotFoundError.
const (
	EntityProduct  = "Product"
	EntityCategory = "Category"
	EntitySale     = "Sale"
)

// NotFoundError уточняет ErrNotFound видом сущности и ключом поиска.
type NotFoundError struct {
	Entity string
	Field  string
	Key    any
}

// NewNotFound создаёт ошибку отсутствия сущности по id.
func NewNotFound(entity string, id any) *NotFoundError {
	return &NotFoundError{Entity: entity, Field: "id", Key: id}
}

func (e *NotFoundError) Error() string {
	field := e.Field
	if field == "" {
		field = "id"
	}
	return fmt.Sprintf("%s not found with %s: %v", e.Entity, field, e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// InsufficientStockError описывает нехватку остатка по конкретному товару.
type InsufficientStockError struct {
	ProductName string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %q: requested %d, available %d",
		e.ProductName, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// InvalidStateError — переход статуса запрещён.
type InvalidStateError struct {
	Reason string
}

func (e *InvalidStateError) Error() string { return "invalid state: " + e.Reason }

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

// InvalidOperationError — операция хранилища отклонена инвариантом.
type InvalidOperationError struct {
	Reason string
}

func (e *InvalidOperationError) Error() string { return "invalid operation: " + e.Reason }

func (e *InvalidOperationError) Is(target error) bool { return target == ErrInvalidOperation }

// ValidationError связывает причину с полем запроса.
type ValidationError struct {
	Field string
	Err   error
}

// NewValidation оборачивает причину ошибки валидации.
func NewValidation(field string, err error) *ValidationError {
	return &ValidationError{Field: field, Err: err}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return e.Field + ": " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// IsBusiness отделяет ошибки, которые исправляет вызывающая сторона, от сбоев инфраструктуры.
func IsBusiness(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrInvalidOperation),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrProductInUse):
		return true
	default:
		return false
	}
}

// IsIdempotencyConflict проверяет, что ключ уже использован.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
