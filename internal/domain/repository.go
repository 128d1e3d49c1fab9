package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// RepositoryIdentity identifies a GitHub repository
type RepositoryIdentity struct {
	Owner string
	Name  string
}

// FullName returns "owner/name"
func (r RepositoryIdentity) FullName() string {
	return r.Owner + "/" + r.Name
}

func (r RepositoryIdentity) String() string {
	return r.FullName()
}

// ParseFullName splits "owner/name" into a RepositoryIdentity
func ParseFullName(fullName string) (RepositoryIdentity, error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(fullName), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return RepositoryIdentity{}, fmt.Errorf("invalid repository name %q: expected owner/name", fullName)
	}
	return RepositoryIdentity{Owner: owner, Name: name}, nil
}

// SearchHit is a repository returned by the search endpoint together with its star count
type SearchHit struct {
	Identity RepositoryIdentity
	Stars    int
}

// RepositorySnapshot is a point-in-time view of a repository's metadata.
// CapturedAt is the run's fixed "now"; all derived values are computed against it.
type RepositorySnapshot struct {
	ID               int
	Identity         RepositoryIdentity
	Stars            int
	CreatedAt        time.Time
	UpdatedAt        time.Time
	PrimaryLanguage  string
	ReleaseCount     int
	MergedPRCount    int
	ClosedIssueCount int
	OpenIssueCount   int
	CapturedAt       time.Time
}

// AgeYears returns whole days since creation divided by 365, rounded to 2 decimals
func (s *RepositorySnapshot) AgeYears() float64 {
	days := math.Floor(s.CapturedAt.Sub(s.CreatedAt).Hours() / 24)
	if days < 0 {
		return 0
	}
	return math.Round(days/365*100) / 100
}

// Recency returns the time elapsed since the last update
func (s *RepositorySnapshot) Recency() Elapsed {
	return ElapsedBetween(s.UpdatedAt, s.CapturedAt)
}

// ClosedIssueRatio returns closed / (closed + open), or 0 when the repository has no issues
func (s *RepositorySnapshot) ClosedIssueRatio() float64 {
	closed := max(s.ClosedIssueCount, 0)
	total := closed + max(s.OpenIssueCount, 0)
	if total == 0 {
		return 0
	}
	return float64(closed) / float64(total)
}

// LanguageOrUnknown returns the primary language, or "Unknown" when GitHub reports none
func (s *RepositorySnapshot) LanguageOrUnknown() string {
	if s.PrimaryLanguage == "" {
		return "Unknown"
	}
	return s.PrimaryLanguage
}
