package model

import "fmt"

// FileState — состояние записи файла.
type FileState string

const (
	// StateActive — файл доступен владельцу
	StateActive FileState = "active"
	// StateSoftDeleted — файл в корзине, квота продолжает расходоваться
	StateSoftDeleted FileState = "soft_deleted"
	// StatePurged — конечное состояние. Существует только внутри транзакции
	// окончательного удаления, после которой запись удаляется.
	StatePurged FileState = "purged"
)

// validTransitions — матрица допустимых переходов.
// Из active в purged напрямую попасть нельзя.
var validTransitions = map[FileState]map[FileState]bool{
	StateActive:      {StateSoftDeleted: true},
	StateSoftDeleted: {StateActive: true, StatePurged: true},
	StatePurged:      {},
}

// ParseFileState разбирает строковое представление состояния.
// Конечное состояние purged снаружи не принимается.
func ParseFileState(s string) (FileState, error) {
	switch FileState(s) {
	case StateActive, StateSoftDeleted:
		return FileState(s), nil
	default:
		return "", fmt.Errorf("недопустимое состояние файла: %q", s)
	}
}

// CanTransition проверяет, допустим ли переход from → to.
func CanTransition(from, to FileState) bool {
	return validTransitions[from][to]
}

// ValidateTransition возвращает ошибку для недопустимого перехода.
func ValidateTransition(from, to FileState) error {
	if _, ok := validTransitions[from]; !ok {
		return fmt.Errorf("неизвестное состояние: %q", from)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("переход %s → %s недопустим", from, to)
	}
	return nil
}
