package cmd

import (
	"flag"

	"github.com/koopa0/ragpipe/internal/retrieve"
)

// retrievalFlags holds the tuning flags shared by query and ask.
// Zero values defer to the configured defaults.
type retrievalFlags struct {
	topK        int
	maxSources  int
	minScore    float64
	tokenBudget int
}

// bindRetrievalFlags registers the shared retrieval flags on fs.
func bindRetrievalFlags(fs *flag.FlagSet) *retrievalFlags {
	rf := &retrievalFlags{}
	fs.IntVar(&rf.topK, "top-k", 0, "Passages to retrieve (0 = config default)")
	fs.IntVar(&rf.maxSources, "max-sources", 0, "Distinct sources to keep (0 = config default)")
	fs.Float64Var(&rf.minScore, "min-score", 0, "Minimum similarity score")
	fs.IntVar(&rf.tokenBudget, "token-budget", 0, "Context token budget (0 = config default)")
	return rf
}

// options converts set flags into retrieval options. Unset flags
// produce no option so per-instance defaults apply.
func (rf *retrievalFlags) options() []retrieve.Option {
	opts := []retrieve.Option{
		retrieve.WithTopK(rf.topK),
		retrieve.WithMaxSources(rf.maxSources),
		retrieve.WithTokenBudget(rf.tokenBudget),
	}
	if rf.minScore > 0 {
		opts = append(opts, retrieve.WithScoreThreshold(rf.minScore))
	}
	return opts
}
