package dpgbdt

import (
	"container/heap"
	"math"

	"github.com/sirupsen/logrus"
)

// buildCtx carries everything a single tree's construction needs: the
// config-derived budgets and sensitivities, the Loss this tree's leaves are
// fit against, and the gradient/target buffers for the rows in its batch.
type buildCtx struct {
	scorer  *splitScorer
	grad    []float64 // length Rows(ds)
	target  []float64 // length Rows(ds); y for regression/binomial, 1{y==k} for multinomial
	loss    Loss
	cfg     *Config
	lambda  float64
	useDP   bool
	epsTree float64
	dg      float64
	dv      float64
	seed    int64
	round   int
	class   int
	nodeSeq int
	tree    *Tree
	logger  *logrus.Entry
}

// buildTree grows one tree for one (round, class) pair over rowIDs, the
// tree's row batch, then clips and noises its leaves when the tree's
// config carries a nonzero privacy budget.
func buildTree(ds Dataset, rowIDs []int, grad, target []float64, kinds []FeatureKind,
	loss Loss, cfg *Config, round, class int, epsTree float64, logger *logrus.Entry) *Tree {

	g := cfg.L2Threshold
	dg := deltaG(g)
	dv := deltaV(g, cfg.L2Lambda, cfg.LearningRate, round)
	useDP := cfg.PrivacyBudget > 0

	tree := newTree(kinds, round, epsTree, dg, dv)
	catSet := make(map[int]bool)
	for j, kind := range kinds {
		if kind == FeatureCategorical {
			catSet[j] = true
		}
	}
	ctx := &buildCtx{
		scorer: &splitScorer{
			ds:      ds,
			grad:    grad,
			catSet:  catSet,
			lambda:  cfg.L2Lambda,
			numCols: ds.Features(),
		},
		grad:    grad,
		target:  target,
		loss:    loss,
		cfg:     cfg,
		lambda:  cfg.L2Lambda,
		useDP:   useDP,
		epsTree: epsTree,
		dg:      dg,
		dv:      dv,
		seed:    cfg.Seed,
		round:   round,
		class:   class,
		tree:    tree,
		logger:  logger,
	}

	if cfg.UseBFS && !cfg.Use3Trees {
		tree.root = ctx.buildBFS(rowIDs)
	} else {
		tree.root = ctx.buildDFS(rowIDs, nil, 0)
	}

	if useDP {
		ctx.postProcess(g)
	}
	return tree
}

func (ctx *buildCtx) budgetForDepth(depth int) float64 {
	base := ctx.epsTree / 2
	if ctx.cfg.UseDecay {
		base /= math.Pow(2, float64(depth))
	} else {
		base /= float64(ctx.cfg.MaxDepth)
	}
	if ctx.cfg.Use3Trees && depth > 0 {
		base /= 2
	}
	return base
}

func (ctx *buildCtx) selectSplit(candidates []splitCandidate, depth int) (*splitCandidate, bool) {
	if len(candidates) == 0 {
		return nil, false
	}
	if !ctx.useDP {
		return argmaxPositive(candidates)
	}
	budget := ctx.budgetForDepth(depth)
	rng := subRNG(ctx.seed, ctx.round, ctx.class, ctx.nodeSeq)
	ctx.nodeSeq++
	split, ok := selectSplit(rng, candidates, budget, ctx.dg)
	if !ok {
		ctx.logger.Debugf("round %d class %d: exponential mechanism exhausted redraws at depth %d", ctx.round, ctx.class, depth)
	}
	return split, ok
}

func (ctx *buildCtx) makeLeaf(pos []int, depth int) int {
	raw := ctx.loss.LeafValue(gather(ctx.grad, pos), gather(ctx.target, pos), ctx.lambda)
	id := ctx.tree.newNode()
	ctx.tree.nodes[id] = node{kind: nodeLeaf, depth: depth, prediction: raw}
	return id
}

// buildDFS recursively partitions pos (and, in 3-node mode, folds in
// sibling for gain computation) until MaxDepth, MinSamplesSplit, or an
// absence of any legal positive-gain split forces a leaf.
func (ctx *buildCtx) buildDFS(pos, sibling []int, depth int) int {
	if depth == ctx.cfg.MaxDepth || len(pos) < ctx.cfg.MinSamplesSplit {
		return ctx.makeLeaf(pos, depth)
	}
	candidates := ctx.scorer.candidates(pos, sibling)
	split, ok := ctx.selectSplit(candidates, depth)
	if !ok {
		return ctx.makeLeaf(pos, depth)
	}

	left, right := ctx.scorer.partition(pos, split.Feature, split.Value)
	var leftSibling, rightSibling []int
	if ctx.cfg.Use3Trees {
		leftSibling, rightSibling = right, left
	}
	leftID := ctx.buildDFS(left, leftSibling, depth+1)
	rightID := ctx.buildDFS(right, rightSibling, depth+1)

	id := ctx.tree.newNode()
	ctx.tree.nodes[id] = node{
		kind: nodeInternal, depth: depth,
		feature: split.Feature, value: split.Value,
		left: leftID, right: rightID,
	}
	return id
}

// bfsItem is one pending node in best-leaf-first growth: its row set, its
// precomputed best split (nil if it cannot legally split further), and the
// id of its (already allocated) placeholder node.
type bfsItem struct {
	pos    []int
	depth  int
	nodeID int
	split  *splitCandidate
}

type bfsHeap []*bfsItem

func (h bfsHeap) Len() int { return len(h) }
func (h bfsHeap) Less(i, j int) bool {
	gi, gj := math.Inf(-1), math.Inf(-1)
	if h[i].split != nil {
		gi = h[i].split.Gain
	}
	if h[j].split != nil {
		gj = h[j].split.Gain
	}
	return gi > gj
}
func (h bfsHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *bfsHeap) Push(x interface{}) { *h = append(*h, x.(*bfsItem)) }
func (h *bfsHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// buildBFS grows the tree best-leaf-first, expanding the highest-gain
// frontier node each step, until the projected leaf count (accepted leaves
// plus remaining frontier size) would reach MaxLeaves. Invariant: before
// every expansion, leaves+frontier size is the exact leaf count the tree
// would have if growth stopped right now.
func (ctx *buildCtx) buildBFS(pos []int) int {
	rootID := ctx.tree.newNode()
	rootSplit := ctx.tryBFSSplit(pos, 0)
	if rootSplit == nil {
		raw := ctx.loss.LeafValue(gather(ctx.grad, pos), gather(ctx.target, pos), ctx.lambda)
		ctx.tree.nodes[rootID] = node{kind: nodeLeaf, depth: 0, prediction: raw}
		return rootID
	}

	frontier := &bfsHeap{{pos: pos, depth: 0, nodeID: rootID, split: rootSplit}}
	heap.Init(frontier)
	leaves := 0

	for frontier.Len() > 0 {
		if ctx.cfg.MaxLeaves > 0 && leaves+frontier.Len() >= ctx.cfg.MaxLeaves {
			break
		}
		item := heap.Pop(frontier).(*bfsItem)
		if item.split == nil || item.depth == ctx.cfg.MaxDepth || len(item.pos) < ctx.cfg.MinSamplesSplit {
			ctx.finishLeaf(item)
			leaves++
			continue
		}

		left, right := ctx.scorer.partition(item.pos, item.split.Feature, item.split.Value)
		leftSplit := ctx.tryBFSSplit(left, item.depth+1)
		rightSplit := ctx.tryBFSSplit(right, item.depth+1)
		leftID := ctx.tree.newNode()
		rightID := ctx.tree.newNode()
		ctx.tree.nodes[item.nodeID] = node{
			kind: nodeInternal, depth: item.depth,
			feature: item.split.Feature, value: item.split.Value,
			left: leftID, right: rightID,
		}
		heap.Push(frontier, &bfsItem{pos: left, depth: item.depth + 1, nodeID: leftID, split: leftSplit})
		heap.Push(frontier, &bfsItem{pos: right, depth: item.depth + 1, nodeID: rightID, split: rightSplit})
	}

	for frontier.Len() > 0 {
		item := heap.Pop(frontier).(*bfsItem)
		ctx.finishLeaf(item)
	}
	return rootID
}

func (ctx *buildCtx) tryBFSSplit(pos []int, depth int) *splitCandidate {
	if depth == ctx.cfg.MaxDepth || len(pos) < ctx.cfg.MinSamplesSplit {
		return nil
	}
	candidates := ctx.scorer.candidates(pos, nil)
	split, ok := ctx.selectSplit(candidates, depth)
	if !ok {
		return nil
	}
	return split
}

func (ctx *buildCtx) finishLeaf(item *bfsItem) {
	raw := ctx.loss.LeafValue(gather(ctx.grad, item.pos), gather(ctx.target, item.pos), ctx.lambda)
	ctx.tree.nodes[item.nodeID] = node{kind: nodeLeaf, depth: item.depth, prediction: raw}
}

// postProcess clips (if configured) and adds Laplace noise to every leaf,
// using the tree's fixed sensitivity and the leaf-budget half of epsTree.
// Clipping and noise are only ever applied under a nonzero privacy budget.
func (ctx *buildCtx) postProcess(g float64) {
	eta := ctx.cfg.LearningRate
	clipBound := g * math.Pow(1-eta, float64(ctx.round))
	leafEps := ctx.epsTree / 2
	scale := ctx.dv / leafEps
	rng := subRNG(ctx.seed, ctx.round, ctx.class, -1)

	ctx.tree.eachLeaf(func(i int) {
		v := ctx.tree.nodes[i].prediction
		if ctx.cfg.LeafClipping {
			v = math.Max(-clipBound, math.Min(clipBound, v))
		}
		v += sampleLaplace(rng, scale)
		ctx.tree.nodes[i].prediction = v
	})
}
