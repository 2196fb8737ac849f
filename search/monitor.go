package search

import (
	"github.com/poiesic/reviewmill/core"
)

// SearchMonitor provides hooks to observe the search process.
// Implement this interface to track intermediate steps and results during search.
type SearchMonitor interface {
	Start(query Query)
	AfterVectorSearch(hits []core.SearchHit)
	AfterRecordRetrieval(reviews []*core.Review)
	Filtered(review *core.Review, reason string)
	Finish(results []Result)
}

// noopMonitor is a no-op implementation of SearchMonitor
type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ Query)                         {}
func (n *noopMonitor) AfterVectorSearch(_ []core.SearchHit)  {}
func (n *noopMonitor) AfterRecordRetrieval(_ []*core.Review) {}
func (n *noopMonitor) Filtered(_ *core.Review, _ string)     {}
func (n *noopMonitor) Finish(_ []Result)                     {}
