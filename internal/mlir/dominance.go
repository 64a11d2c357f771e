package mlir

// DominanceInfo computes and caches dominator trees per region.
type DominanceInfo struct {
	trees map[*Region]*domTree
}

type domTree struct {
	order    []*Block
	number   map[*Block]int
	idom     map[*Block]*Block
	children map[*Block][]*Block
}

// NewDominanceInfo creates an empty dominance cache.
func NewDominanceInfo() *DominanceInfo {
	return &DominanceInfo{trees: make(map[*Region]*domTree)}
}

func (d *DominanceInfo) tree(r *Region) *domTree {
	if t, ok := d.trees[r]; ok {
		return t
	}
	t := buildDomTree(r)
	d.trees[r] = t
	return t
}

// Invalidate drops cached information after the CFG of r changed.
func (d *DominanceInfo) Invalidate(r *Region) { delete(d.trees, r) }

// Reachable reports whether b is reachable from its region's entry.
func (d *DominanceInfo) Reachable(b *Block) bool {
	_, ok := d.tree(b.parent).number[b]
	return ok
}

// Dominates reports whether every path from the entry to b passes a.
func (d *DominanceInfo) Dominates(a, b *Block) bool {
	if a == b {
		return true
	}
	if a.parent != b.parent {
		return false
	}
	t := d.tree(a.parent)
	for cur := t.idom[b]; cur != nil; cur = t.idom[cur] {
		if cur == a {
			return true
		}
		if t.idom[cur] == cur {
			break
		}
	}
	return false
}

// IDom returns the immediate dominator of b, or nil for the entry block.
func (d *DominanceInfo) IDom(b *Block) *Block {
	idom := d.tree(b.parent).idom[b]
	if idom == b {
		return nil
	}
	return idom
}

// Children returns the blocks immediately dominated by b in reverse post
// order.
func (d *DominanceInfo) Children(b *Block) []*Block {
	return d.tree(b.parent).children[b]
}

// ReversePostOrder returns the reachable blocks of r in reverse post order.
func (d *DominanceInfo) ReversePostOrder(r *Region) []*Block {
	return d.tree(r).order
}

// buildDomTree implements the Cooper, Harvey and Kennedy iterative
// algorithm over the reverse post order of the region's CFG.
func buildDomTree(r *Region) *domTree {
	t := &domTree{
		number:   make(map[*Block]int),
		idom:     make(map[*Block]*Block),
		children: make(map[*Block][]*Block),
	}
	entry := r.Entry()
	if entry == nil {
		return t
	}
	visited := make(map[*Block]bool)
	var post []*Block
	var dfs func(b *Block)
	dfs = func(b *Block) {
		visited[b] = true
		for _, s := range b.Successors() {
			if !visited[s] {
				dfs(s)
			}
		}
		post = append(post, b)
	}
	dfs(entry)
	for i := len(post) - 1; i >= 0; i-- {
		t.number[post[i]] = len(t.order)
		t.order = append(t.order, post[i])
	}

	preds := make(map[*Block][]*Block)
	for _, b := range t.order {
		for _, s := range b.Successors() {
			preds[s] = append(preds[s], b)
		}
	}

	t.idom[entry] = entry
	intersect := func(a, b *Block) *Block {
		for a != b {
			for t.number[a] > t.number[b] {
				a = t.idom[a]
			}
			for t.number[b] > t.number[a] {
				b = t.idom[b]
			}
		}
		return a
	}
	for changed := true; changed; {
		changed = false
		for _, b := range t.order[1:] {
			var idom *Block
			for _, p := range preds[b] {
				if t.idom[p] == nil {
					continue
				}
				if idom == nil {
					idom = p
				} else {
					idom = intersect(p, idom)
				}
			}
			if idom != nil && t.idom[b] != idom {
				t.idom[b] = idom
				changed = true
			}
		}
	}
	for _, b := range t.order[1:] {
		if p := t.idom[b]; p != nil {
			t.children[p] = append(t.children[p], b)
		}
	}
	return t
}
