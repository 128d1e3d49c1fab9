package sink

import (
	"context"
	"fmt"

	"github.com/kurihiro0119/github-lab-harvester/internal/domain"
)

// CSVIdentitySource supplies repositories listed in an earlier dataset. It accepts either
// owner and name columns or a single repository/full_name column holding "owner/name".
type CSVIdentitySource struct {
	Path      string
	Delimiter rune
}

// Identities returns up to target unique repositories in file order (all of them when target <= 0)
func (s *CSVIdentitySource) Identities(ctx context.Context, target int) ([]domain.SearchHit, error) {
	delimiter := s.Delimiter
	if delimiter == 0 {
		delimiter = ','
	}
	rows, err := readAll(s.Path, delimiter)
	if err != nil {
		return nil, err
	}

	seen := make(map[domain.RepositoryIdentity]bool, len(rows))
	var hits []domain.SearchHit
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		id, err := identityFromRow(row)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", s.Path, i+2, err)
		}
		if seen[id] {
			continue
		}
		seen[id] = true

		p := rowParser{row: row}
		hits = append(hits, domain.SearchHit{Identity: id, Stars: p.number("stars")})
		if target > 0 && len(hits) == target {
			break
		}
	}
	return hits, nil
}

func identityFromRow(row map[string]string) (domain.RepositoryIdentity, error) {
	if row["owner"] != "" && row["name"] != "" {
		return domain.RepositoryIdentity{Owner: row["owner"], Name: row["name"]}, nil
	}
	for _, col := range []string{"repository", "full_name", "name_with_owner", "name"} {
		if v := row[col]; v != "" {
			return domain.ParseFullName(v)
		}
	}
	return domain.RepositoryIdentity{}, fmt.Errorf("no repository columns")
}
