package episodeupdate

import (
	"context"
	"errors"
	"strings"

	cg "github.com/enikshay/casetools/internal/domain/casegraph"
	"github.com/enikshay/casetools/internal/domain/hierarchy"
)

// TestUpdate lists the private-sector diagnostic tests of an episode and their
// result grades.
type TestUpdate struct {
	res *hierarchy.Resolver
}

func NewTestUpdate(res *hierarchy.Resolver) *TestUpdate {
	return &TestUpdate{res: res}
}

func (u *TestUpdate) Name() string { return "test" }

func (u *TestUpdate) UpdateJSON(ctx context.Context, episode *cg.Case) (map[string]string, error) {
	tests, err := u.res.PrivateDiagnosticTestsFromEpisode(ctx, episode.CaseID)
	if errors.Is(err, cg.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return DiagnosticTestSummary(tests), nil
}

// DiagnosticTestSummary joins test names and result grades with ", ". It returns nil
// when there are no tests.
func DiagnosticTestSummary(tests []*cg.Case) map[string]string {
	if len(tests) == 0 {
		return nil
	}
	var names, results []string
	for _, t := range tests {
		if name := diagnosticTestName(t); name != "" {
			names = append(names, name)
		}
		if grade, ok := t.LookupProperty("result_grade"); ok {
			results = append(results, grade)
		}
	}
	return map[string]string{
		"diagnostic_tests":        strings.Join(names, ", "),
		"diagnostic_test_results": strings.Join(results, ", "),
	}
}

func diagnosticTestName(t *cg.Case) string {
	name := t.Property("investigation_type_name")
	if site := t.Property("site_specimen_name"); site != "" {
		return name + ": " + site
	}
	return name
}
