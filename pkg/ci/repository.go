package ci

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ProjectStore loads projects by id.
type ProjectStore interface {
	GetByID(ctx context.Context, id int) (*Project, error)
}

// BuildStore runs criteria queries over builds.
type BuildStore interface {
	GetWhere(ctx context.Context, q BuildQuery) (BuildList, error)
}

// Repository is the read side the status service needs.
type Repository interface {
	ProjectStore
	BuildStore
}

var (
	_ Repository = (*MemStore)(nil)
	_ Repository = (*PostgresStore)(nil)
)

// LatestBuild returns the most recent build of a project on branch, narrowed
// to commitID when it is non-empty. It returns nil when nothing matches.
func LatestBuild(ctx context.Context, store BuildStore, projectID int, branch, commitID string) (*Build, error) {
	list, err := store.GetWhere(ctx, BuildQuery{
		ProjectID: projectID,
		Branch:    branch,
		CommitID:  commitID,
		Limit:     1,
		Order:     OrderIDDesc,
	})
	if err != nil {
		return nil, err
	}
	if len(list.Items) == 0 {
		return nil, nil
	}
	b := list.Items[0]
	return &b, nil
}
