package plugin

import (
	"errors"
	"fmt"
	"path/filepath"
	goplugin "plugin"
	"strings"
)

// PackSymbol is the exported symbol every handler pack binary must provide.
const PackSymbol = "HandlerPack"

var (
	// ErrInvalidPack reports a binary that is not a usable handler pack.
	ErrInvalidPack = errors.New("invalid handler pack")
)

// Loader resolves handler pack binaries into Plugin implementations.
type Loader interface {
	Load(path string) (Plugin, error)
}

// GoPluginLoader opens handler packs built with -buildmode=plugin.
type GoPluginLoader struct {
	// Symbol overrides PackSymbol when set.
	Symbol string
}

// Load opens the shared object, resolves the pack symbol and checks the
// metadata the pack declares before anything is registered.
func (l GoPluginLoader) Load(path string) (Plugin, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: path cannot be empty", ErrInvalidPack)
	}
	if filepath.Ext(path) != ".so" {
		return nil, fmt.Errorf("%w: %s is not a .so build", ErrInvalidPack, path)
	}
	so, err := goplugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open handler pack %s: %w", path, err)
	}
	name := l.Symbol
	if name == "" {
		name = PackSymbol
	}
	symbol, err := so.Lookup(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s does not export %s: %v", ErrInvalidPack, path, name, err)
	}
	p, err := resolvePack(symbol)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := ValidatePackInfo(p.Info()); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// resolvePack accepts a Plugin value, a pointer to one, or a constructor.
func resolvePack(symbol any) (Plugin, error) {
	var p Plugin
	switch s := symbol.(type) {
	case *Plugin:
		if s != nil {
			p = *s
		}
	case func() Plugin:
		if s != nil {
			p = s()
		}
	case Plugin:
		p = s
	default:
		return nil, fmt.Errorf("%w: symbol of type %T does not implement plugin.Plugin", ErrInvalidPack, symbol)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: symbol resolves to nil", ErrInvalidPack)
	}
	return p, nil
}

// ValidatePackInfo checks the metadata a handler pack declares.
// The id becomes the namespace of every contribution, so it follows the
// same rules as configured plugin ids.
func ValidatePackInfo(info Info) error {
	if strings.ContainsAny(info.ID, ". ") {
		return fmt.Errorf("%w: id %q cannot contain dots or spaces", ErrInvalidPack, info.ID)
	}
	switch info.Category {
	case "", TypeHandlers, TypePredicates, TypeMixed:
	default:
		return fmt.Errorf("%w: unknown category %q", ErrInvalidPack, info.Category)
	}
	return nil
}
