package domain

// Summary holds descriptive statistics for one numeric column
type Summary struct {
	Count  int
	Mean   float64
	Std    float64
	Min    float64
	P25    float64
	Median float64
	P75    float64
	Max    float64
}

// GroupSummary is the Summary of one column within one group
type GroupSummary struct {
	Group   string
	Column  string
	Summary Summary
}

// CountRow is a category with its frequency
type CountRow struct {
	Category string
	Count    int
}

// ResearchResult is the answer table for one research question
type ResearchResult struct {
	ID       string // "RQ01", "RQ02", ...
	Question string
	GroupBy  string // empty when the question is not grouped
	Rows     []GroupSummary
	Counts   []CountRow
}
