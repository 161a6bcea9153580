// Package storage persists images by name for the storage opcodes.
package storage

import (
	"errors"
	"regexp"
	"strings"

	"github.com/coreman2200/povpoi/internal/store"
)

var (
	ErrNotFound      = errors.New("storage: not found")
	ErrInvalidName   = errors.New("storage: invalid name")
	ErrInvalidFormat = errors.New("storage: invalid file format")
)

// MaxNameLen bounds stored names, extension included.
const MaxNameLen = 32

var nameRE = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Provider saves and loads images by name. Only the dispatcher calls it.
type Provider interface {
	Save(name string, img *store.Image) error
	Load(name string) (*store.Image, error)
	List() ([]string, error)
	Delete(name string) error
	Info(name string) (Info, error)
}

// Info describes a stored image without loading its pixels.
type Info struct {
	Width  uint16
	Height uint16
	// Size is the stored size in bytes.
	Size int64
}

// ValidName reports whether name is acceptable to every provider: short,
// a restricted character set and no path traversal. The .tmp suffix is
// reserved for files being written.
func ValidName(name string) bool {
	if name == "" || len(name) > MaxNameLen || name == "." || name == ".." {
		return false
	}
	if strings.HasSuffix(strings.ToLower(name), ".tmp") {
		return false
	}
	return nameRE.MatchString(name)
}
