package chain

import "github.com/goodnatureofminers/spvnode/internal/spv/store"

// ActionKind classifies the outcome of connecting a batch of headers.
type ActionKind int

const (
	// ActionBestChain extends the current best tip directly; Split is the
	// previous tip and New holds the newly connected nodes in order.
	ActionBestChain ActionKind = iota
	// ActionChainReorg replaces Old with New below a common ancestor Split,
	// because New's tip carries more chain_work than the previous best tip.
	ActionChainReorg
	// ActionSideChain accepts the headers as valid but not best; nothing
	// should be persisted to the height index or best-tip pointer.
	ActionSideChain
	// ActionKnownChain reports that every connected header was already
	// present and linked into the existing tree; nothing changed.
	ActionKnownChain
)

// Action is the result of connecting one or more headers.
type Action struct {
	Kind  ActionKind
	Split HeaderNode   // common ancestor of Old and New
	Old   []HeaderNode // nodes being displaced, ascending height (reorg only)
	New   []HeaderNode // nodes being adopted, ascending height, split+1..tip
}

// evalNewChain classifies a freshly-verified, already-persisted run of
// header nodes against the current best tip. newNodes must be contiguous
// and in ascending height order, as ConnectHeaders builds them.
func (c *HeaderChain) evalNewChain(newNodes []HeaderNode) (Action, error) {
	if len(newNodes) == 0 {
		return Action{Kind: ActionKnownChain}, nil
	}

	tip, err := c.BestTip()
	if err != nil {
		return Action{}, err
	}

	first := newNodes[0]
	parent, err := c.parentNode(first)
	if err != nil {
		return Action{}, store.Wrap("parent_node", err)
	}

	// Direct extension of the current best tip: the common case.
	if parent.Hash == tip.Hash {
		return Action{Kind: ActionBestChain, Split: parent, New: newNodes}, nil
	}

	last := newNodes[len(newNodes)-1]

	split, err := c.commonAncestor(tip, parent)
	if err != nil {
		return Action{}, err
	}

	prefix, err := c.pathUp(parent, split)
	if err != nil {
		return Action{}, err
	}
	full := append(prefix, newNodes...)

	if last.ChainWork.Cmp(tip.ChainWork) <= 0 {
		return Action{Kind: ActionSideChain, Split: split, New: full}, nil
	}

	old, err := c.pathDown(tip, split.Height)
	if err != nil {
		return Action{}, err
	}
	return Action{Kind: ActionChainReorg, Split: split, Old: old, New: full}, nil
}

// commonAncestor finds the nearest shared ancestor of a and b by walking the
// taller branch down to the shorter one's height, then both down in
// lockstep along prev-hash pointers.
func (c *HeaderChain) commonAncestor(a, b HeaderNode) (HeaderNode, error) {
	var err error
	for a.Height > b.Height {
		if a, err = c.parentNode(a); err != nil {
			return HeaderNode{}, store.Wrap("parent_node", err)
		}
	}
	for b.Height > a.Height {
		if b, err = c.parentNode(b); err != nil {
			return HeaderNode{}, store.Wrap("parent_node", err)
		}
	}
	for a.Hash != b.Hash {
		if a, err = c.parentNode(a); err != nil {
			return HeaderNode{}, store.Wrap("parent_node", err)
		}
		if b, err = c.parentNode(b); err != nil {
			return HeaderNode{}, store.Wrap("parent_node", err)
		}
	}
	return a, nil
}

// pathUp returns the nodes strictly above split up to and including n,
// ascending height order, walking prev-hash pointers back from n.
func (c *HeaderChain) pathUp(n, split HeaderNode) ([]HeaderNode, error) {
	var out []HeaderNode
	cur := n
	for cur.Hash != split.Hash {
		out = append([]HeaderNode{cur}, out...)
		parent, err := c.parentNode(cur)
		if err != nil {
			return nil, store.Wrap("parent_node", err)
		}
		cur = parent
	}
	return out, nil
}

// pathDown returns the nodes strictly above height down to (but not
// including) it, ascending height order — the Old side of a reorg Action.
func (c *HeaderChain) pathDown(tip HeaderNode, height uint32) ([]HeaderNode, error) {
	var out []HeaderNode
	cur := tip
	for cur.Height > height {
		out = append([]HeaderNode{cur}, out...)
		parent, err := c.parentNode(cur)
		if err != nil {
			return nil, store.Wrap("parent_node", err)
		}
		cur = parent
	}
	return out, nil
}
