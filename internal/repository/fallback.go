package repository

import (
	"context"
	"errors"
)

// WithDefault returns a repository that answers with def for teams that
// have no stored workspace. A nil def returns repo unchanged.
func WithDefault(repo WorkspaceRepository, def *Workspace) WorkspaceRepository {
	if def == nil {
		return repo
	}
	return &fallbackRepository{WorkspaceRepository: repo, def: *def}
}

type fallbackRepository struct {
	WorkspaceRepository
	def Workspace
}

func (f *fallbackRepository) GetWorkspace(ctx context.Context, teamID string) (*Workspace, error) {
	ws, err := f.WorkspaceRepository.GetWorkspace(ctx, teamID)
	if errors.Is(err, ErrWorkspaceNotFound) {
		def := f.def
		def.TeamID = teamID
		return &def, nil
	}
	return ws, err
}
