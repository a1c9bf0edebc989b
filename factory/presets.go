package factory

import (
	"embed"
	"fmt"
	"path"
	"sort"
)

//go:embed plants/*.json
var presetFS embed.FS

// PresetIDs lists the built-in plant fixtures in name order.
func PresetIDs() []string {
	entries, _ := presetFS.ReadDir("plants")
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		ids = append(ids, name[:len(name)-len(path.Ext(name))])
	}
	sort.Strings(ids)
	return ids
}

// PresetJSON returns the raw JSON of a built-in plant fixture.
func PresetJSON(id string) (string, error) {
	data, err := presetFS.ReadFile("plants/" + id + ".json")
	if err != nil {
		return "", fmt.Errorf("unknown plant preset %q", id)
	}
	return string(data), nil
}

// Preset parses a built-in plant fixture.
func (f *PlantFactory) Preset(id string) (*Plant, error) {
	jsonStr, err := PresetJSON(id)
	if err != nil {
		return nil, err
	}
	return f.ParsePlant(jsonStr)
}
