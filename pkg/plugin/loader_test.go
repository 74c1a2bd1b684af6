package plugin

import (
	"errors"
	"testing"
)

func TestResolvePackSymbols(t *testing.T) {
	var value Plugin = &fakePlugin{info: Info{ID: "math"}}
	var empty Plugin
	ctor := func() Plugin { return value }

	for name, symbol := range map[string]any{
		"pointer":     &value,
		"value":       value,
		"constructor": ctor,
	} {
		p, err := resolvePack(symbol)
		if err != nil || p.Info().ID != "math" {
			t.Fatalf("%s: resolve = %v, %v", name, p, err)
		}
	}

	for name, symbol := range map[string]any{
		"nil pointer target": &empty,
		"nil constructor":    func() Plugin { return nil },
		"wrong type":         "HandlerPack",
	} {
		if _, err := resolvePack(symbol); !errors.Is(err, ErrInvalidPack) {
			t.Fatalf("%s: expected ErrInvalidPack, got %v", name, err)
		}
	}
}

func TestValidatePackInfo(t *testing.T) {
	valid := []Info{
		{ID: "text", Category: TypeHandlers},
		{Category: TypeMixed},
		{ID: "preds", Category: TypePredicates},
	}
	for _, info := range valid {
		if err := ValidatePackInfo(info); err != nil {
			t.Fatalf("%+v: %v", info, err)
		}
	}
	invalid := []Info{
		{ID: "a.b", Category: TypeHandlers},
		{ID: "a b"},
		{ID: "text", Category: "datasource"},
	}
	for _, info := range invalid {
		if err := ValidatePackInfo(info); !errors.Is(err, ErrInvalidPack) {
			t.Fatalf("%+v: expected ErrInvalidPack, got %v", info, err)
		}
	}
}

func TestGoPluginLoaderRejectsBadPaths(t *testing.T) {
	for _, path := range []string{"", "text.dll", "plugins/text"} {
		if _, err := (GoPluginLoader{}).Load(path); !errors.Is(err, ErrInvalidPack) {
			t.Fatalf("%q: expected ErrInvalidPack, got %v", path, err)
		}
	}
}
