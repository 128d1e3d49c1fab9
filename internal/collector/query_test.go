package collector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/github-lab-harvester/internal/domain"
)

func TestBuildBatches(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7}

	batches := BuildBatches(items, 3)
	require.Len(t, batches, 3)
	assert.Equal(t, []int{1, 2, 3}, batches[0].Items)
	assert.Equal(t, []int{4, 5, 6}, batches[1].Items)
	assert.Equal(t, []int{7}, batches[2].Items)
	for i, b := range batches {
		assert.Equal(t, i, b.Index)
	}
}

func TestBuildBatches_OnePerIdentity(t *testing.T) {
	ids := []domain.RepositoryIdentity{{Owner: "a", Name: "r1"}, {Owner: "b", Name: "r2"}}

	batches := BuildBatches(ids, 1)
	require.Len(t, batches, 2)
	assert.Equal(t, []domain.RepositoryIdentity{{Owner: "a", Name: "r1"}}, batches[0].Items)
	assert.Equal(t, []domain.RepositoryIdentity{{Owner: "b", Name: "r2"}}, batches[1].Items)
}

func TestBuildBatches_EdgeSizes(t *testing.T) {
	assert.Empty(t, BuildBatches([]int{}, 5))
	assert.Len(t, BuildBatches([]int{1, 2, 3}, 0), 3)
	assert.Len(t, BuildBatches([]int{1, 2, 3}, 10), 1)

	// appending to a batch must not clobber the next one
	batches := BuildBatches([]int{1, 2, 3, 4}, 2)
	_ = append(batches[0].Items, 99)
	assert.Equal(t, []int{3, 4}, batches[1].Items)
}

func TestBuildAggregateQuery(t *testing.T) {
	batch := domain.Batch[domain.RepositoryIdentity]{
		Index: 4,
		Items: []domain.RepositoryIdentity{
			{Owner: "golang", Name: "go"},
			{Owner: "we\"ird", Name: "na\\me"},
		},
	}

	q := BuildAggregateQuery(batch, MetadataFields)

	assert.Equal(t, []string{"repo0", "repo1"}, q.Aliases)
	assert.Contains(t, q.Document, `repo0: repository(owner: "golang", name: "go")`)
	assert.Contains(t, q.Document, `repo1: repository(owner: "we\"ird", name: "na\\me")`)
	assert.Contains(t, q.Document, "mergedPullRequests: pullRequests(states: MERGED)")
	assert.Less(t, strings.Index(q.Document, "repo0:"), strings.Index(q.Document, "repo1:"))
}

func TestBuildAggregateQuery_ReleaseFields(t *testing.T) {
	batch := domain.Batch[domain.RepositoryIdentity]{Items: []domain.RepositoryIdentity{{Owner: "a", Name: "b"}}}

	q := BuildAggregateQuery(batch, ReleaseFields)
	assert.Contains(t, q.Document, "releases { totalCount }")
	assert.NotContains(t, q.Document, "mergedPullRequests")
}

func TestFieldSetByName(t *testing.T) {
	fs, err := FieldSetByName("releases")
	require.NoError(t, err)
	assert.Equal(t, ReleaseFields, fs)

	_, err = FieldSetByName("everything")
	assert.Error(t, err)
}
