package gitrepo_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"

	"github.com/user/modforge/internal/gitrepo"
)

func initRepo(t *testing.T) (string, plumbing.Hash) {
	t.Helper()
	dir := t.TempDir()

	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	wt, err := repo.Worktree()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("mod"), 0o644))
	_, err = wt.Add("readme.txt")
	require.NoError(t, err)

	hash, err := wt.Commit("add readme\n\nlonger body", &git.CommitOptions{
		Author: &object.Signature{Name: "Alice", Email: "alice@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	// Simulate a fetched remote-tracking branch.
	ref := plumbing.NewHashReference(plumbing.NewRemoteReferenceName("origin", "main"), hash)
	require.NoError(t, repo.Storer.SetReference(ref))

	return dir, hash
}

func TestOpen_CreatesRemote(t *testing.T) {
	dir, _ := initRepo(t)

	_, err := gitrepo.Open(dir, "https://example.com/mod.git")
	require.NoError(t, err)

	repo, err := git.PlainOpen(dir)
	require.NoError(t, err)
	remote, err := repo.Remote("origin")
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/mod.git"}, remote.Config().URLs)
}

func TestOpen_UpdatesRemoteURL(t *testing.T) {
	dir, _ := initRepo(t)

	_, err := gitrepo.Open(dir, "https://example.com/old.git")
	require.NoError(t, err)
	_, err = gitrepo.Open(dir, "https://example.com/new.git")
	require.NoError(t, err)

	repo, err := git.PlainOpen(dir)
	require.NoError(t, err)
	remote, err := repo.Remote("origin")
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/new.git"}, remote.Config().URLs)
}

func TestListRemoteBranches(t *testing.T) {
	dir, _ := initRepo(t)

	repo, err := gitrepo.Open(dir, "https://example.com/mod.git")
	require.NoError(t, err)

	branches, err := repo.ListRemoteBranches()
	require.NoError(t, err)
	require.Equal(t, []string{"origin/main"}, branches)
}

func TestLogSummary(t *testing.T) {
	dir, _ := initRepo(t)

	repo, err := gitrepo.Open(dir, "https://example.com/mod.git")
	require.NoError(t, err)

	summaries, err := repo.LogSummary("origin/main", 5)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, "add readme", summaries[0].Subject)
	require.Equal(t, "Alice", summaries[0].Author)
	require.NotEmpty(t, summaries[0].Hash)
}

func TestCheckout_LocalRemote(t *testing.T) {
	dir, hash := initRepo(t)

	repo, err := gitrepo.Open(dir, dir)
	require.NoError(t, err)

	require.NoError(t, repo.Checkout(context.Background(), hash.String()))
}
