// Package repository provides pgx-backed persistence for the
// devserver: users, matches, and messages with their reactions and
// per-user deletes.
package repository

import "errors"

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")
