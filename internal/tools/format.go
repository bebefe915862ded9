package tools

import (
	"fmt"
	"strings"

	"github.com/causeway-ai/causeway/internal/providers"
)

// Formatters render adapter results as compact human-readable text for the
// model. Everything here is bounded again by Truncate at the call site.

func formatLogs(entries []providers.LogEntry) string {
	if len(entries) == 0 {
		return "No log entries found in the requested window."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d log entries (newest first):\n", len(entries))
	for _, e := range entries {
		level := e.Level
		if level == "" {
			level = "info"
		}
		fmt.Fprintf(&b, "[%s] %s %s: %s\n",
			e.Timestamp.Format("2006-01-02 15:04:05"), strings.ToUpper(level), e.Service,
			strings.TrimSpace(e.Message))
	}
	return b.String()
}

func formatSeries(series []providers.Series) string {
	if len(series) == 0 {
		return "No data points found in the requested window."
	}

	var b strings.Builder
	for _, s := range series {
		label := seriesLabel(s)
		if len(s.Points) == 0 {
			fmt.Fprintf(&b, "%s: no data\n", label)
			continue
		}

		min, max, sum := s.Points[0].Value, s.Points[0].Value, 0.0
		for _, p := range s.Points {
			if p.Value < min {
				min = p.Value
			}
			if p.Value > max {
				max = p.Value
			}
			sum += p.Value
		}
		last := s.Points[len(s.Points)-1]
		fmt.Fprintf(&b, "%s: %d points, min=%.3f max=%.3f avg=%.3f last=%.3f at %s\n",
			label, len(s.Points), min, max, sum/float64(len(s.Points)),
			last.Value, last.Timestamp.Format("15:04:05"))
	}
	return b.String()
}

func seriesLabel(s providers.Series) string {
	if len(s.Labels) == 0 {
		return "series"
	}
	parts := make([]string, 0, len(s.Labels))
	for k, v := range s.Labels {
		parts = append(parts, k+"="+v)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func formatRepos(repos []providers.Repo) string {
	if len(repos) == 0 {
		return "No repositories visible to this integration."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d repositories:\n", len(repos))
	for _, r := range repos {
		line := r.Name + " (default branch: " + r.DefaultBranch + ")"
		if r.Description != "" {
			line += " — " + r.Description
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func formatMatches(matches []providers.CodeMatch) string {
	if len(matches) == 0 {
		return "No code matches found."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d code matches:\n", len(matches))
	for _, m := range matches {
		fmt.Fprintf(&b, "%s/%s:\n%s\n\n", m.Repo, m.Path, strings.TrimSpace(m.Fragment))
	}
	return b.String()
}

func formatCommits(commits []providers.Commit) string {
	if len(commits) == 0 {
		return "No commits found."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d recent commits:\n", len(commits))
	for _, c := range commits {
		sha := c.SHA
		if len(sha) > 8 {
			sha = sha[:8]
		}
		fmt.Fprintf(&b, "%s %s %s: %s\n",
			sha, c.When.Format("2006-01-02"), c.Author, firstLine(strings.TrimSpace(c.Message)))
	}
	return b.String()
}
