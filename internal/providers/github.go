package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"
)

// GitHubCredentials is the sealed payload of a GitHub integration.
type GitHubCredentials struct {
	Token string `json:"token"`
	// Owner is the organization or user whose repositories are visible to
	// the agent.
	Owner string `json:"owner"`
}

// GitHubAdapter implements CodeAdapter over the GitHub REST API.
type GitHubAdapter struct {
	client *github.Client
	owner  string
}

func NewGitHubAdapter(ctx context.Context, creds GitHubCredentials) *GitHubAdapter {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: creds.Token})
	return &GitHubAdapter{
		client: github.NewClient(oauth2.NewClient(ctx, ts)),
		owner:  creds.Owner,
	}
}

func (a *GitHubAdapter) ListRepos(ctx context.Context) ([]Repo, error) {
	repos, _, err := a.client.Repositories.ListByOrg(ctx, a.owner, &github.RepositoryListByOrgOptions{
		Sort:        "pushed",
		ListOptions: github.ListOptions{PerPage: 50},
	})
	if err != nil {
		// Owner may be a user account rather than an org.
		var userErr error
		repos, _, userErr = a.client.Repositories.ListByUser(ctx, a.owner, &github.RepositoryListByUserOptions{
			Sort:        "pushed",
			ListOptions: github.ListOptions{PerPage: 50},
		})
		if userErr != nil {
			return nil, fmt.Errorf("providers.GitHubAdapter.ListRepos: %w", classifyGitHubError(err))
		}
	}

	out := make([]Repo, 0, len(repos))
	for _, r := range repos {
		out = append(out, Repo{
			Name:          r.GetName(),
			DefaultBranch: r.GetDefaultBranch(),
			Description:   r.GetDescription(),
		})
	}

	return out, nil
}

func (a *GitHubAdapter) ReadFile(ctx context.Context, repo, path, ref string) (string, error) {
	opts := &github.RepositoryContentGetOptions{}
	if ref != "" {
		opts.Ref = ref
	}

	content, _, _, err := a.client.Repositories.GetContents(ctx, a.owner, repo, path, opts)
	if err != nil {
		return "", fmt.Errorf("providers.GitHubAdapter.ReadFile: %w", classifyGitHubError(err))
	}
	if content == nil {
		return "", fmt.Errorf("providers.GitHubAdapter.ReadFile: %q is a directory", path)
	}

	text, err := content.GetContent()
	if err != nil {
		return "", fmt.Errorf("providers.GitHubAdapter.ReadFile: decode: %w", err)
	}

	return text, nil
}

func (a *GitHubAdapter) SearchCode(ctx context.Context, repo, query string, limit int) ([]CodeMatch, error) {
	if limit <= 0 || limit > 50 {
		limit = 20
	}

	q := query
	if repo != "" {
		q = fmt.Sprintf("%s repo:%s/%s", query, a.owner, repo)
	} else {
		q = fmt.Sprintf("%s org:%s", query, a.owner)
	}

	result, _, err := a.client.Search.Code(ctx, q, &github.SearchOptions{
		TextMatch:   true,
		ListOptions: github.ListOptions{PerPage: limit},
	})
	if err != nil {
		return nil, fmt.Errorf("providers.GitHubAdapter.SearchCode: %w", classifyGitHubError(err))
	}

	var matches []CodeMatch
	for _, res := range result.CodeResults {
		m := CodeMatch{
			Repo: res.GetRepository().GetName(),
			Path: res.GetPath(),
		}
		var fragments []string
		for _, tm := range res.TextMatches {
			fragments = append(fragments, tm.GetFragment())
		}
		m.Fragment = strings.Join(fragments, "\n---\n")
		matches = append(matches, m)
	}

	return matches, nil
}

func (a *GitHubAdapter) ListCommits(ctx context.Context, repo, branch string, limit int) ([]Commit, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	opts := &github.CommitsListOptions{
		ListOptions: github.ListOptions{PerPage: limit},
	}
	if branch != "" {
		opts.SHA = branch
	}

	commits, _, err := a.client.Repositories.ListCommits(ctx, a.owner, repo, opts)
	if err != nil {
		return nil, fmt.Errorf("providers.GitHubAdapter.ListCommits: %w", classifyGitHubError(err))
	}

	out := make([]Commit, 0, len(commits))
	for _, c := range commits {
		commit := Commit{
			SHA:     c.GetSHA(),
			Message: c.GetCommit().GetMessage(),
		}
		if author := c.GetCommit().GetAuthor(); author != nil {
			commit.Author = author.GetName()
			commit.When = author.GetDate().Time.UTC()
		}
		out = append(out, commit)
	}

	return out, nil
}

func classifyGitHubError(err error) error {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return fmt.Errorf("github: %w", classifyHTTPStatus(ghErr.Response.StatusCode))
	}
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return fmt.Errorf("github: rate limited: %w", ErrUnavailable)
	}
	return fmt.Errorf("github: %w", errors.Join(ErrUnavailable, err))
}
