package source

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"
	"github.com/google/go-github/v81/github"
)

// GitHub reads knowledge-base files from a directory of a GitHub repository.
// Rate limits are handled transparently; setting GITHUB_TOKEN raises the
// request quota.
type GitHub struct {
	client   *github.Client
	owner    string
	repo     string
	basePath string
}

// NewGitHub creates a GitHub source for owner/repo rooted at basePath.
func NewGitHub(owner, repo, basePath string) (*GitHub, error) {
	rateLimiter, err := github_ratelimit.NewRateLimitWaiterClient(nil)
	if err != nil {
		return nil, fmt.Errorf("create rate limiter: %w", err)
	}

	client := github.NewClient(rateLimiter)
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		client = client.WithAuthToken(token)
	}

	return &GitHub{
		client:   client,
		owner:    owner,
		repo:     repo,
		basePath: basePath,
	}, nil
}

// List recursively walks the repository directory.
func (g *GitHub) List(ctx context.Context) ([]string, error) {
	return g.listDir(ctx, g.basePath, "")
}

func (g *GitHub) listDir(ctx context.Context, fullPath, relPath string) ([]string, error) {
	_, entries, _, err := g.client.Repositories.GetContents(ctx, g.owner, g.repo, fullPath, nil)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", fullPath, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.Type == nil || entry.Name == nil {
			continue
		}
		entryRel := path.Join(relPath, *entry.Name)

		switch *entry.Type {
		case "file":
			if ingestibleExt[strings.ToLower(path.Ext(*entry.Name))] {
				paths = append(paths, entryRel)
			}
		case "dir":
			sub, err := g.listDir(ctx, path.Join(fullPath, *entry.Name), entryRel)
			if err != nil {
				return nil, err
			}
			paths = append(paths, sub...)
		}
	}
	return paths, nil
}

// Read fetches and decodes one repository file.
func (g *GitHub) Read(ctx context.Context, relPath string) (*File, error) {
	fullPath := path.Join(g.basePath, relPath)

	content, _, _, err := g.client.Repositories.GetContents(ctx, g.owner, g.repo, fullPath, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", fullPath, err)
	}
	if content == nil || content.Content == nil {
		return nil, fmt.Errorf("no content returned for %s", fullPath)
	}

	data, err := base64.StdEncoding.DecodeString(*content.Content)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", fullPath, err)
	}
	return &File{Path: relPath, Data: data}, nil
}

// HeadCommit returns the SHA of the latest commit touching the source
// directory, for staleness checks between syncs.
func (g *GitHub) HeadCommit(ctx context.Context) (string, error) {
	commits, _, err := g.client.Repositories.ListCommits(ctx, g.owner, g.repo,
		&github.CommitsListOptions{
			Path:        g.basePath,
			ListOptions: github.ListOptions{PerPage: 1},
		})
	if err != nil {
		return "", fmt.Errorf("list commits: %w", err)
	}
	if len(commits) == 0 || commits[0].SHA == nil {
		return "", fmt.Errorf("no commits found for %s", g.basePath)
	}
	return *commits[0].SHA, nil
}
