package repository

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// seedFile is the layout of a WORKSPACES_FILE
type seedFile struct {
	Workspaces []Workspace `yaml:"workspaces"`
}

// LoadSeedFile reads workspaces from a YAML file
func LoadSeedFile(path string) ([]Workspace, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workspaces file: %w", err)
	}

	var f seedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse workspaces file: %w", err)
	}
	for i, ws := range f.Workspaces {
		if ws.TeamID == "" {
			return nil, fmt.Errorf("workspace %d: team_id is required", i)
		}
		switch ws.Provider {
		case "", ProviderJira, ProviderMonday:
		default:
			return nil, fmt.Errorf("workspace %s: unknown provider %q", ws.TeamID, ws.Provider)
		}
	}
	return f.Workspaces, nil
}

// Seed saves every workspace in the file into repo
func Seed(ctx context.Context, repo WorkspaceRepository, path string) (int, error) {
	workspaces, err := LoadSeedFile(path)
	if err != nil {
		return 0, err
	}
	for i := range workspaces {
		if err := repo.SaveWorkspace(ctx, &workspaces[i]); err != nil {
			return i, fmt.Errorf("failed to seed workspace %s: %w", workspaces[i].TeamID, err)
		}
	}
	return len(workspaces), nil
}
