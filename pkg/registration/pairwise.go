package registration

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/spatial/r2"

	"tilereg/internal/models"
	"tilereg/pkg/correlate"
	"tilereg/pkg/tilegraph"
)

// EdgeOptions controls pairwise alignment of a tile graph.
type EdgeOptions struct {
	// MaxShift is the largest accepted correction magnitude in pixels
	MaxShift float64

	// Correlate is passed to every correlation
	Correlate correlate.Options

	// NumWorkers sizes the worker pool; zero or less means one worker
	NumWorkers int
}

// EdgeStats summarises one pairwise alignment pass.
type EdgeStats struct {
	// Scored is the number of edges that were correlated
	Scored int

	// Rejected lists the ids of edges whose correction exceeded MaxShift
	Rejected []int

	// Failed lists the ids of edges whose correlation failed
	Failed []int
}

// AlignEdges measures the correction of every edge in g.
//
// planes holds the preprocessed alignment plane of every tile, indexed by
// slot. Each edge is scored by exactly one worker and nothing else in the
// graph is written, so the workers share g without locking. Edges whose
// correction exceeds the bound are invalidated; edges whose correlation fails
// keep an infinite error. Both are reported in the returned stats in
// ascending id order.
func AlignEdges(g *tilegraph.Graph, planes []*models.Plane, opts EdgeOptions) EdgeStats {
	numWorkers := opts.NumWorkers
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if numWorkers > len(g.Edges) {
		numWorkers = len(g.Edges)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				scoreEdge(&g.Edges[id], planes, opts)
			}
		}()
	}
	for id := range g.Edges {
		jobs <- id
	}
	close(jobs)
	wg.Wait()

	stats := EdgeStats{Scored: len(g.Edges)}
	for id := range g.Edges {
		e := &g.Edges[id]
		if math.IsInf(e.Error, 0) || math.IsNaN(e.Error) {
			stats.Failed = append(stats.Failed, id)
			continue
		}
		if r2.Norm(e.Correction) > opts.MaxShift {
			g.Invalidate(id)
			stats.Rejected = append(stats.Rejected, id)
		}
	}
	return stats
}

// scoreEdge correlates the two overlap crops of e and records the shift,
// correction and error.
func scoreEdge(e *tilegraph.Edge, planes []*models.Plane, opts EdgeOptions) {
	res := correlateOverlap(e, planes, opts.Correlate)
	shift := res.Shift
	e.Shift = &shift
	e.Error = res.Error
	if !res.Ok() {
		e.Correction = r2.Vec{}
		return
	}
	rounded := r2.Vec{X: float64(e.Rounded.X), Y: float64(e.Rounded.Y)}
	e.Correction = r2.Sub(r2.Sub(rounded, res.Shift), e.Nominal)
}

func correlateOverlap(e *tilegraph.Edge, planes []*models.Plane, opts correlate.Options) correlate.Result {
	if e.I >= len(planes) || e.J >= len(planes) || planes[e.I] == nil || planes[e.J] == nil {
		return correlate.Result{Error: correlate.Failed}
	}
	a, err := planes[e.I].Crop(e.OverlapI)
	if err != nil {
		return correlate.Result{Error: correlate.Failed}
	}
	b, err := planes[e.J].Crop(e.OverlapJ)
	if err != nil {
		return correlate.Result{Error: correlate.Failed}
	}
	return correlate.Align(a, b, opts)
}
