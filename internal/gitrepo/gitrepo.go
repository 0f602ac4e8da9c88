// Package gitrepo wraps the mod's local work tree with the narrow
// source-control capability the pipeline and the frontend need.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	git "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const remoteName = "origin"

type CommitSummary struct {
	Hash    string    `json:"hash"`
	Author  string    `json:"author"`
	Subject string    `json:"subject"`
	When    time.Time `json:"when"`
}

type Repo struct {
	repo *git.Repository
}

// Open opens the work tree and pins the origin remote to remoteURL.
func Open(path, remoteURL string) (*Repo, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("opening repository %s: %w", path, err)
	}

	if remoteURL != "" {
		if err := ensureRemote(repo, remoteURL); err != nil {
			return nil, err
		}
	}

	return &Repo{repo: repo}, nil
}

func ensureRemote(repo *git.Repository, remoteURL string) error {
	remote, err := repo.Remote(remoteName)
	switch {
	case errors.Is(err, git.ErrRemoteNotFound):
		_, err = repo.CreateRemote(&gitconfig.RemoteConfig{
			Name: remoteName,
			URLs: []string{remoteURL},
		})
		if err != nil {
			return fmt.Errorf("creating remote: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("reading remote: %w", err)
	}

	if urls := remote.Config().URLs; len(urls) > 0 && urls[0] != remoteURL {
		cfg, err := repo.Config()
		if err != nil {
			return fmt.Errorf("reading repository config: %w", err)
		}
		cfg.Remotes[remoteName].URLs = []string{remoteURL}
		if err := repo.SetConfig(cfg); err != nil {
			return fmt.Errorf("updating remote url: %w", err)
		}
	}
	return nil
}

// Checkout fetches the remote and force-checks-out ref, which may be a remote
// branch name or a commit hash.
func (r *Repo) Checkout(ctx context.Context, ref string) error {
	remote, err := r.repo.Remote(remoteName)
	if err != nil {
		return fmt.Errorf("reading remote: %w", err)
	}

	err = remote.FetchContext(ctx, &git.FetchOptions{Force: true})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("fetching %s: %w", remoteName, err)
	}

	hash, err := r.repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return fmt.Errorf("resolving %s: %w", ref, err)
	}

	wt, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("opening work tree: %w", err)
	}

	if err := wt.Checkout(&git.CheckoutOptions{Hash: *hash, Force: true}); err != nil {
		return fmt.Errorf("checking out %s: %w", ref, err)
	}
	return nil
}

// ListRemoteBranches returns remote branch names in "origin/name" form.
func (r *Repo) ListRemoteBranches() ([]string, error) {
	refs, err := r.repo.References()
	if err != nil {
		return nil, fmt.Errorf("listing references: %w", err)
	}

	var branches []string
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name()
		if !name.IsRemote() || strings.HasSuffix(name.String(), "/HEAD") {
			return nil
		}
		branches = append(branches, name.Short())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking references: %w", err)
	}
	return branches, nil
}

// LogSummary returns metadata for the most recent count commits reachable
// from ref.
func (r *Repo) LogSummary(ref string, count int) ([]CommitSummary, error) {
	hash, err := r.repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", ref, err)
	}

	iter, err := r.repo.Log(&git.LogOptions{From: *hash})
	if err != nil {
		return nil, fmt.Errorf("reading log for %s: %w", ref, err)
	}
	defer iter.Close()

	var summaries []CommitSummary
	err = iter.ForEach(func(c *object.Commit) error {
		summaries = append(summaries, CommitSummary{
			Hash:    c.Hash.String(),
			Author:  c.Author.Name,
			Subject: strings.SplitN(c.Message, "\n", 2)[0],
			When:    c.Author.When,
		})
		if len(summaries) >= count {
			return errStopIteration
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopIteration) {
		return nil, fmt.Errorf("walking log for %s: %w", ref, err)
	}
	return summaries, nil
}

var errStopIteration = errors.New("stop iteration")
