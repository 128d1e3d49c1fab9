package collector

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kurihiro0119/github-lab-harvester/internal/domain"
)

// FieldSet is the GraphQL selection requested for every repository of an aggregate query
type FieldSet struct {
	Name      string
	Selection string
}

// MetadataFields is the selection used by the repository metadata harvest
var MetadataFields = FieldSet{
	Name: "metadata",
	Selection: `nameWithOwner
createdAt
updatedAt
primaryLanguage { name }
releases { totalCount }
mergedPullRequests: pullRequests(states: MERGED) { totalCount }
closedIssues: issues(states: CLOSED) { totalCount }
openIssues: issues(states: OPEN) { totalCount }`,
}

// ReleaseFields is the lighter selection used when only age and releases matter
var ReleaseFields = FieldSet{
	Name: "releases",
	Selection: `nameWithOwner
createdAt
updatedAt
primaryLanguage { name }
releases { totalCount }`,
}

// FieldSetByName resolves "metadata" or "releases"
func FieldSetByName(name string) (FieldSet, error) {
	switch name {
	case MetadataFields.Name, "":
		return MetadataFields, nil
	case ReleaseFields.Name:
		return ReleaseFields, nil
	}
	return FieldSet{}, fmt.Errorf("unknown field set %q", name)
}

// AggregateQuery is one GraphQL document covering a whole batch.
// Aliases[i] is the response key of the batch's i-th item.
type AggregateQuery struct {
	Document string
	Aliases  []string
}

// BuildBatches splits items into contiguous chunks of at most size items, preserving order
func BuildBatches[T any](items []T, size int) []domain.Batch[T] {
	if size < 1 {
		size = 1
	}
	batches := make([]domain.Batch[T], 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		batches = append(batches, domain.Batch[T]{
			Index: len(batches),
			Items: items[start:end:end],
		})
	}
	return batches
}

// BuildAggregateQuery requests fields for every repository of the batch under positional
// aliases repo0..repoN-1, in batch order.
func BuildAggregateQuery(batch domain.Batch[domain.RepositoryIdentity], fields FieldSet) AggregateQuery {
	var b strings.Builder
	aliases := make([]string, len(batch.Items))
	selection := indent(fields.Selection, "    ")

	b.WriteString("query {\n")
	for i, id := range batch.Items {
		aliases[i] = fmt.Sprintf("repo%d", i)
		fmt.Fprintf(&b, "  %s: repository(owner: %s, name: %s) {\n%s\n  }\n",
			aliases[i], graphQLString(id.Owner), graphQLString(id.Name), selection)
	}
	b.WriteString("}\n")

	return AggregateQuery{Document: b.String(), Aliases: aliases}
}

// graphQLString quotes s as a GraphQL string literal. JSON string escaping is a subset of
// GraphQL's, so the JSON encoding is a valid literal.
func graphQLString(s string) string {
	quoted, _ := json.Marshal(s)
	return string(quoted)
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
