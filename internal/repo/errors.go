package repo

import "errors"

// Общие ошибки репозиториев.
var (
	// ErrNotFound — записи нет в БД (workflow, версия, run, schedule).
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — конфликт уникальности (имя workflow занято).
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidState — операция невозможна в текущем состоянии записи.
	ErrInvalidState = errors.New("invalid state")
)
