// Package project defines the registered projects and the stores that
// persist them.
package project

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrEmptyName   = errors.New("project name cannot be empty")
	ErrInvalidName = errors.New("invalid project name: allowed [A-Za-z0-9._-] and no '..'")
	ErrEmptyPath   = errors.New("project path cannot be empty")
	ErrDuplicate   = errors.New("project with this name already exists")
	ErrNotFound    = errors.New("project not found")
)

// Project is a named working directory plus the script run inside it.
// Name is the unique, immutable key.
type Project struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Desc   string `json:"desc"`
	Script string `json:"script"`
}

// Validate checks the fields every store requires.
func (p Project) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrEmptyName
	}
	if !ValidName(p.Name) {
		return ErrInvalidName
	}
	if strings.TrimSpace(p.Path) == "" {
		return ErrEmptyPath
	}
	return nil
}

// ValidName reports whether s can name a project. Names become log file
// names, so they are limited to a single safe path element.
func ValidName(s string) bool {
	if s == "" || strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}

// Store persists projects. Implementations must be safe for concurrent use.
type Store interface {
	EnsureSchema(ctx context.Context) error
	List(ctx context.Context) ([]Project, error)
	Get(ctx context.Context, name string) (Project, error)
	Add(ctx context.Context, p Project) error
	Delete(ctx context.Context, name string) error
	Close() error
}
