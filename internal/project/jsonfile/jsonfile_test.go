package jsonfile

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/devrun/internal/project"
	"github.com/loykin/devrun/internal/project/projecttest"
)

func TestJSONStore(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "nested", "projects.json"))
	require.NoError(t, err)
	projecttest.Run(t, s)
}

func TestJSONStore_FileFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "projects.json")
	s, err := New(path)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.EnsureSchema(ctx))
	require.NoError(t, s.Add(ctx, project.Project{Name: "web", Path: "/srv/web", Desc: "d", Script: "dev"}))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"name":"web","path":"/srv/web","desc":"d","script":"dev"}]`, string(b))
}

func TestJSONStore_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "projects.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	s, err := New(path)
	require.NoError(t, err)
	_, err = s.List(context.Background())
	assert.Error(t, err)
}

func TestJSONStore_ConcurrentAdds(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "projects.json"))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.EnsureSchema(ctx))

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Add(ctx, project.Project{Name: "same", Path: "/p"})
		}(i)
	}
	wg.Wait()
	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, project.ErrDuplicate)
		}
	}
	assert.Equal(t, 1, ok)
}
