package roles

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadDir reads one YAML role file per canonical role from dir (per spec
// §6's subagent configuration format) and a parallel "aliases.yaml" file
// mapping deprecated names to {canonical, mode}, registering both into reg.
// Missing aliases.yaml is not an error; a subagent directory with no
// deprecated names simply omits it.
func LoadDir(reg *Registry, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("roles: read dir %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		if entry.Name() == "aliases.yaml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		role, err := loadRoleFile(path)
		if err != nil {
			return err
		}
		reg.AddRole(role)
	}

	aliasPath := filepath.Join(dir, "aliases.yaml")
	if _, err := os.Stat(aliasPath); err == nil {
		aliases, err := loadAliasFile(aliasPath)
		if err != nil {
			return err
		}
		for name, alias := range aliases {
			reg.AddAlias(name, alias)
		}
	}
	return nil
}

func loadRoleFile(path string) (*Role, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("roles: read %s: %w", path, err)
	}
	var role Role
	if err := yaml.Unmarshal(data, &role); err != nil {
		return nil, fmt.Errorf("roles: parse %s: %w", path, err)
	}
	if role.Name == "" {
		role.Name = strings.TrimSuffix(filepath.Base(path), ".yaml")
	}
	return &role, nil
}

func loadAliasFile(path string) (map[string]Alias, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("roles: read %s: %w", path, err)
	}
	var aliases map[string]Alias
	if err := yaml.Unmarshal(data, &aliases); err != nil {
		return nil, fmt.Errorf("roles: parse %s: %w", path, err)
	}
	return aliases, nil
}

// LoadSchema reads a canonical JSON Schema file and returns it as a
// generic map suitable for schema.Transform and schema.Validate.
func LoadSchema(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("roles: read schema %s: %w", path, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("roles: parse schema %s: %w", path, err)
	}
	return doc, nil
}
