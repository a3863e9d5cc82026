// Package eval measures retrieval quality: recall@k over a YAML suite of
// test queries with known relevant documents.
package eval

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/flightskb/flightskb/internal/query"
)

// TestQuery is one labelled query: the documents any good answer should
// come from.
type TestQuery struct {
	Query          string   `yaml:"query"`
	ExpectedDocIDs []string `yaml:"expected_doc_ids"`
	K              int      `yaml:"k,omitempty"`
}

type querySuite struct {
	Queries []TestQuery `yaml:"queries"`
}

// QueryOutcome is the scored result of one test query
type QueryOutcome struct {
	Query    string
	K        int
	Hit      bool
	Expected []string
	Returned []string // doc ids actually retrieved, in rank order
	Matched  []string // expected doc ids found in the top k
}

// Report aggregates a full evaluation run
type Report struct {
	RecallAtK float64
	Total     int
	Hits      int
	Threshold float64
	Outcomes  []QueryOutcome
}

// Passed reports whether recall met the configured threshold
func (r *Report) Passed() bool {
	return r.RecallAtK >= r.Threshold
}

// Searcher is the slice of the query engine the harness needs
type Searcher interface {
	Search(ctx context.Context, req query.Request) ([]query.Result, error)
}

// LoadQueries reads the YAML test suite at path
func LoadQueries(path string) ([]TestQuery, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read eval queries: %w", err)
	}
	var suite querySuite
	if err := yaml.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("parse eval queries: %w", err)
	}
	for i, q := range suite.Queries {
		if q.Query == "" {
			return nil, fmt.Errorf("eval query %d has no query text", i+1)
		}
		if len(q.ExpectedDocIDs) == 0 {
			return nil, fmt.Errorf("eval query %q has no expected_doc_ids", q.Query)
		}
	}
	return suite.Queries, nil
}

// Run executes every test query and scores it. A query counts as a hit
// when any expected document appears among the top k results; recall@k is
// the fraction of queries that hit. Search errors abort the run rather
// than scoring as misses.
func Run(ctx context.Context, searcher Searcher, queries []TestQuery, defaultK int, threshold float64) (*Report, error) {
	if len(queries) == 0 {
		return nil, fmt.Errorf("no eval queries to run")
	}

	report := &Report{
		Total:     len(queries),
		Threshold: threshold,
	}

	for _, tq := range queries {
		k := tq.K
		if k <= 0 {
			k = defaultK
		}
		results, err := searcher.Search(ctx, query.Request{Text: tq.Query, K: k})
		if err != nil {
			return nil, fmt.Errorf("eval query %q: %w", tq.Query, err)
		}

		returned := make([]string, 0, len(results))
		seen := make(map[string]bool)
		for _, res := range results {
			if !seen[res.DocID] {
				seen[res.DocID] = true
				returned = append(returned, res.DocID)
			}
		}

		var matched []string
		for _, want := range tq.ExpectedDocIDs {
			if seen[want] {
				matched = append(matched, want)
			}
		}

		outcome := QueryOutcome{
			Query:    tq.Query,
			K:        k,
			Hit:      len(matched) > 0,
			Expected: tq.ExpectedDocIDs,
			Returned: returned,
			Matched:  matched,
		}
		if outcome.Hit {
			report.Hits++
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}

	report.RecallAtK = float64(report.Hits) / float64(report.Total)
	return report, nil
}
