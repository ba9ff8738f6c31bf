package dedupe

// bkTree 是按汉明距离组织的 BK 树，只在所有哈希等长时使用，此时距离满足三角不等式。
type bkTree struct {
	root *bkNode
}

type bkNode struct {
	hash     string
	idx      int
	children map[int]*bkNode
}

func (t *bkTree) insert(hash string, idx int) {
	if t.root == nil {
		t.root = &bkNode{hash: hash, idx: idx}
		return
	}
	n := t.root
	for {
		d := Hamming(hash, n.hash)
		if n.children == nil {
			n.children = make(map[int]*bkNode)
		}
		child, ok := n.children[d]
		if !ok {
			n.children[d] = &bkNode{hash: hash, idx: idx}
			return
		}
		n = child
	}
}

// within 返回与 hash 距离不超过 threshold 的所有下标（无序）。
func (t *bkTree) within(hash string, threshold int) []int {
	if t.root == nil {
		return nil
	}
	var out []int
	stack := []*bkNode{t.root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		d := Hamming(hash, n.hash)
		if d <= threshold {
			out = append(out, n.idx)
		}
		for cd, child := range n.children {
			if cd >= d-threshold && cd <= d+threshold {
				stack = append(stack, child)
			}
		}
	}
	return out
}
