package aggregator

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/kurihiro0119/github-lab-harvester/internal/domain"
	"github.com/kurihiro0119/github-lab-harvester/internal/sink"
)

// SummarySchema is the column layout of a grouped research-question result file
var SummarySchema = sink.Schema{"question", "group_by", "group", "column", "count", "mean", "std", "min", "p25", "median", "p75", "max"}

// CountSchema is the column layout of a frequency result file
var CountSchema = sink.Schema{"question", "group_by", "category", "count"}

// ResultPath returns the file a research question is written to
func ResultPath(dir, id string) string {
	return filepath.Join(dir, id+"_results.csv")
}

// WriteResults writes one delimited file per research question into dir, replacing any
// previous result file of the same question.
func WriteResults(w *sink.Writer, dir string, results []domain.ResearchResult) error {
	for _, r := range results {
		path := ResultPath(dir, r.ID)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("replacing %s: %w", path, err)
		}

		var err error
		if r.Counts != nil {
			err = w.Write(countRows(r), path, CountSchema)
		} else {
			err = w.Write(summaryRows(r), path, SummarySchema)
		}
		if err != nil {
			return fmt.Errorf("writing %s results: %w", r.ID, err)
		}
	}
	return nil
}

func summaryRows(r domain.ResearchResult) [][]string {
	groupBy := r.GroupBy
	if groupBy == "" {
		groupBy = all
	}
	rows := make([][]string, 0, len(r.Rows))
	for _, g := range r.Rows {
		s := g.Summary
		rows = append(rows, []string{
			r.Question, groupBy, g.Group, g.Column, strconv.Itoa(s.Count),
			formatFloat(s.Mean), formatFloat(s.Std), formatFloat(s.Min), formatFloat(s.P25),
			formatFloat(s.Median), formatFloat(s.P75), formatFloat(s.Max),
		})
	}
	return rows
}

func countRows(r domain.ResearchResult) [][]string {
	rows := make([][]string, 0, len(r.Counts))
	for _, c := range r.Counts {
		rows = append(rows, []string{r.Question, r.GroupBy, c.Category, strconv.Itoa(c.Count)})
	}
	return rows
}

// Render prints every result as a table
func Render(out io.Writer, results []domain.ResearchResult) {
	for _, r := range results {
		fmt.Fprintf(out, "\n%s: %s\n", r.ID, r.Question)

		table := tablewriter.NewWriter(out)
		if r.Counts != nil {
			table.SetHeader([]string{"Category", "Count"})
			for _, c := range r.Counts {
				table.Append([]string{c.Category, strconv.Itoa(c.Count)})
			}
		} else {
			table.SetHeader([]string{"Group", "Column", "Count", "Mean", "Std", "Min", "Median", "Max"})
			for _, g := range r.Rows {
				s := g.Summary
				table.Append([]string{
					g.Group, g.Column, strconv.Itoa(s.Count),
					formatFloat(s.Mean), formatFloat(s.Std), formatFloat(s.Min),
					formatFloat(s.Median), formatFloat(s.Max),
				})
			}
		}
		table.Render()
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
