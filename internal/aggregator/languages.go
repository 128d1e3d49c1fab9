package aggregator

import (
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"

	"github.com/kurihiro0119/github-lab-harvester/internal/domain"
)

// PopularLanguages is the reference list of widely used languages the report compares against
var PopularLanguages = []string{
	"Python",
	"JavaScript",
	"TypeScript",
	"Java",
	"C#",
	"C++",
	"PHP",
	"Shell",
	"C",
	"Go",
}

// LanguageStats holds contribution, release and update figures for a set of repositories
type LanguageStats struct {
	Count          int
	MergedMean     float64
	MergedMedian   float64
	ReleasesMean   float64
	ReleasesMedian float64
	HoursMean      float64
	HoursMedian    float64
}

// LanguageReport compares popular languages with the rest of a snapshot dataset
type LanguageReport struct {
	Repositories   int
	LanguagesFound int
	Present        []string // popular languages present, in reference order
	PerLanguage    map[string]LanguageStats
	Popular        LanguageStats
	Others         LanguageStats

	// Rankings over the present popular languages
	ByMergedPRs []string // mean merged PRs, descending
	ByReleases  []string // mean releases, descending
	ByRecency   []string // mean hours since update, ascending
}

// BuildLanguageReport groups snapshots by primary language and summarizes popular vs other
func BuildLanguageReport(snaps []domain.RepositorySnapshot) *LanguageReport {
	groups := map[string][]domain.RepositorySnapshot{}
	for _, s := range snaps {
		lang := s.LanguageOrUnknown()
		groups[lang] = append(groups[lang], s)
	}

	report := &LanguageReport{
		Repositories:   len(snaps),
		LanguagesFound: len(groups),
		PerLanguage:    map[string]LanguageStats{},
	}

	var popular, others []domain.RepositorySnapshot
	for lang, items := range groups {
		if slices.Contains(PopularLanguages, lang) {
			report.PerLanguage[lang] = languageStats(items)
			popular = append(popular, items...)
		} else {
			others = append(others, items...)
		}
	}
	report.Popular = languageStats(popular)
	report.Others = languageStats(others)

	for _, lang := range PopularLanguages {
		if _, ok := report.PerLanguage[lang]; ok {
			report.Present = append(report.Present, lang)
		}
	}

	report.ByMergedPRs = report.rank(func(s LanguageStats) float64 { return -s.MergedMean })
	report.ByReleases = report.rank(func(s LanguageStats) float64 { return -s.ReleasesMean })
	report.ByRecency = report.rank(func(s LanguageStats) float64 { return s.HoursMean })

	return report
}

// rank orders the present languages by ascending key, keeping reference order on ties
func (r *LanguageReport) rank(key func(LanguageStats) float64) []string {
	out := slices.Clone(r.Present)
	sort.SliceStable(out, func(i, j int) bool {
		return key(r.PerLanguage[out[i]]) < key(r.PerLanguage[out[j]])
	})
	return out
}

func languageStats(items []domain.RepositorySnapshot) LanguageStats {
	merged := make([]float64, len(items))
	releases := make([]float64, len(items))
	hours := make([]float64, len(items))
	for i, s := range items {
		merged[i] = float64(s.MergedPRCount)
		releases[i] = float64(s.ReleaseCount)
		hours[i] = s.Recency().Hours()
	}
	m, rel, h := Describe(merged), Describe(releases), Describe(hours)
	return LanguageStats{
		Count:          len(items),
		MergedMean:     m.Mean,
		MergedMedian:   m.Median,
		ReleasesMean:   rel.Mean,
		ReleasesMedian: rel.Median,
		HoursMean:      h.Mean,
		HoursMedian:    h.Median,
	}
}

// Render writes the report as plain text
func (r *LanguageReport) Render(w io.Writer) error {
	var b strings.Builder
	b.WriteString("RQ07 - Contributions, releases and update frequency by language\n\n")
	fmt.Fprintf(&b, "Repositories analyzed: %d\n", r.Repositories)
	fmt.Fprintf(&b, "Languages found: %d\n", r.LanguagesFound)
	if len(r.Present) == 0 {
		b.WriteString("Popular languages present: none\n")
	} else {
		fmt.Fprintf(&b, "Popular languages present: %s\n", strings.Join(r.Present, ", "))
	}
	if r.Others.Count > 0 {
		fmt.Fprintf(&b, "Repositories in other languages: %d\n", r.Others.Count)
	}
	b.WriteString("\nPer popular language (mean, median in parentheses):\n")
	if len(r.Present) == 0 {
		b.WriteString("No popular language was found in the dataset.\n")
	}
	for _, lang := range r.Present {
		s := r.PerLanguage[lang]
		fmt.Fprintf(&b, "- %s (n=%d): merged PRs %.1f (%.1f), releases %.1f (%.1f), since last update %s (%s)\n",
			lang, s.Count, s.MergedMean, s.MergedMedian, s.ReleasesMean, s.ReleasesMedian,
			domain.HumanizeHours(s.HoursMean), domain.HumanizeHours(s.HoursMedian))
	}

	if len(r.Present) > 0 {
		b.WriteString("\nRankings:\n")
		fmt.Fprintf(&b, "1) Merged PRs (mean): %s\n", strings.Join(r.ByMergedPRs, " > "))
		fmt.Fprintf(&b, "2) Releases (mean): %s\n", strings.Join(r.ByReleases, " > "))
		fmt.Fprintf(&b, "3) Update frequency (lower time since update first): %s\n", strings.Join(r.ByRecency, " > "))
	}

	b.WriteString("\n")
	if r.Others.Count > 0 {
		b.WriteString("Popular vs other languages:\n")
		fmt.Fprintf(&b, "- Merged PRs (mean): popular=%.1f others=%.1f\n", r.Popular.MergedMean, r.Others.MergedMean)
		fmt.Fprintf(&b, "- Releases (mean): popular=%.1f others=%.1f\n", r.Popular.ReleasesMean, r.Others.ReleasesMean)
		fmt.Fprintf(&b, "- Since last update (mean): popular=%s others=%s\n",
			domain.HumanizeHours(r.Popular.HoursMean), domain.HumanizeHours(r.Others.HoursMean))
		b.WriteString("\nConclusion:\n")
		fmt.Fprintf(&b, "- More contributions in popular languages? %s\n", yesNo(r.Popular.MergedMean > r.Others.MergedMean))
		fmt.Fprintf(&b, "- More releases in popular languages? %s\n", yesNo(r.Popular.ReleasesMean > r.Others.ReleasesMean))
		fmt.Fprintf(&b, "- Updated more often in popular languages? %s\n", yesNo(r.Popular.HoursMean < r.Others.HoursMean))
	} else {
		b.WriteString("Not enough repositories in other languages for an aggregate comparison.\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func yesNo(v bool) string {
	if v {
		return "YES"
	}
	return "NO"
}
