// Package projecttest holds the behaviour every project.Store must share.
package projecttest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/devrun/internal/project"
)

// Run exercises s, which must be empty, against the project.Store contract.
func Run(t *testing.T, s project.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.EnsureSchema(ctx))
	require.NoError(t, s.EnsureSchema(ctx), "EnsureSchema must be idempotent")

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	web := project.Project{Name: "web", Path: "/srv/web", Desc: "frontend", Script: "dev"}
	api := project.Project{Name: "api", Path: "/srv/api", Desc: "", Script: "start"}
	require.NoError(t, s.Add(ctx, web))
	require.NoError(t, s.Add(ctx, api))

	assert.ErrorIs(t, s.Add(ctx, project.Project{Name: "web", Path: "/elsewhere"}), project.ErrDuplicate)
	assert.ErrorIs(t, s.Add(ctx, project.Project{Name: " ", Path: "/x"}), project.ErrEmptyName)
	assert.ErrorIs(t, s.Add(ctx, project.Project{Name: "../x", Path: "/x"}), project.ErrInvalidName)
	assert.ErrorIs(t, s.Add(ctx, project.Project{Name: "x", Path: ""}), project.ErrEmptyPath)

	list, err = s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []project.Project{api, web}, list)

	got, err := s.Get(ctx, "web")
	require.NoError(t, err)
	assert.Equal(t, web, got, "duplicate add must not overwrite")

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, project.ErrNotFound)

	require.NoError(t, s.Delete(ctx, "web"))
	assert.ErrorIs(t, s.Delete(ctx, "web"), project.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "never"), project.ErrNotFound)

	list, err = s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []project.Project{api}, list)

	// a deleted name can be added again
	require.NoError(t, s.Add(ctx, web))
}
