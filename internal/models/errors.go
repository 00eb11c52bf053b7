package models

import "github.com/pkg/errors"

// Классы ошибок. Адаптеры оборачивают их через errors.Wrap, вызывающий код
// различает через errors.Is, а не по тексту сообщения.
var (
	ErrTransient     = errors.New("transient remote error")
	ErrAuthorization = errors.New("authorization error")
	ErrData          = errors.New("malformed data")
	ErrNotFound      = errors.New("not found")
	ErrSubmission    = errors.New("submission failed")
)

type ErrorKind string

const (
	KindNone          ErrorKind = ""
	KindTransient     ErrorKind = "transient"
	KindAuthorization ErrorKind = "auth"
	KindData          ErrorKind = "data"
	KindNotFound      ErrorKind = "not_found"
	KindSubmission    ErrorKind = "submission"
)

// KindOf возвращает класс ошибки. Порядок: авторизация, отправка, not found.
// NotFound — только для id, которых нет в локальном кэше; 404 биржи на запись
// приходит обёрнутым в ErrSubmission и классифицируется как submission.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrAuthorization):
		return KindAuthorization
	case errors.Is(err, ErrSubmission):
		return KindSubmission
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrData):
		return KindData
	default:
		return KindTransient
	}
}

// multiKind позволяет одной ошибке нести два класса (например submission + auth).
type multiKind struct {
	cause error
	kinds []error
}

func (m *multiKind) Error() string { return m.cause.Error() }

func (m *multiKind) Unwrap() []error { return append([]error{m.cause}, m.kinds...) }

// WithKind помечает err дополнительным классом, сохраняя исходную цепочку.
func WithKind(err error, kind error) error {
	if err == nil {
		return nil
	}
	return &multiKind{cause: err, kinds: []error{kind}}
}
