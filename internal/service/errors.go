// errors.go — ошибки бизнес-логики сервисного слоя.
//
// Ошибки учёта квот и хранилища записей передаются вызывающему
// без изменений, поэтому сервисные значения совпадают с ошибками
// репозиториев и проверки изоляции.
package service

import (
	"errors"
	"fmt"

	"github.com/bigkaa/cryptvault/internal/domain/authz"
	"github.com/bigkaa/cryptvault/internal/repository"
)

var (
	// ErrNotFound — запись файла не найдена.
	ErrNotFound = repository.ErrNotFound
	// ErrConflict — ресурс уже существует.
	ErrConflict = repository.ErrConflict
	// ErrTenantNotFound — арендатор не зарегистрирован.
	ErrTenantNotFound = repository.ErrTenantNotFound
	// ErrTenantInactive — арендатор деактивирован.
	ErrTenantInactive = repository.ErrTenantInactive
	// ErrQuotaExceeded — превышение квоты. Повтор без действий клиента бесполезен.
	ErrQuotaExceeded = repository.ErrQuotaExceeded
	// ErrStateMismatch — проигрыш гонки за состояние записи.
	ErrStateMismatch = repository.ErrStateMismatch
	// ErrLimitBelowUsage — новая квота меньше занятого объёма.
	ErrLimitBelowUsage = repository.ErrLimitBelowUsage
	// ErrUnauthorized — принципал не владеет ресурсом.
	ErrUnauthorized = authz.ErrUnauthorized

	// ErrNotDeleted — восстановление файла, который не в корзине.
	// Совместима с ErrStateMismatch через errors.Is.
	ErrNotDeleted = fmt.Errorf("файл не находится в корзине: %w", repository.ErrStateMismatch)
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrFileTooLarge — размер файла превышает допустимый.
	ErrFileTooLarge = errors.New("размер файла превышает допустимый")
	// ErrRateLimited — превышен лимит частоты операций.
	ErrRateLimited = errors.New("превышен лимит частоты запросов")
	// ErrChecksumMismatch — контрольная сумма записанного объекта не совпала с заявленной.
	ErrChecksumMismatch = errors.New("контрольная сумма объекта не совпадает")
	// ErrObjectStore — сбой хранилища объектов.
	ErrObjectStore = errors.New("сбой хранилища объектов")
)
