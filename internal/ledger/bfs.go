package ledger

// maxBFSIterations bounds descendant enumeration across all three
// platform backends.
const maxBFSIterations = 200

// bfsDescendants walks from roots outward using childrenOf (one process's
// immediate children) as the expansion function, stopping after
// maxBFSIterations node visits. Each discovered descendant keeps its
// parentPid so the caller can attach it to its nearest tracked ancestor.
func bfsDescendants(roots []int, childrenOf func(pid int) []ChildInfo) ([]ChildInfo, error) {
	var out []ChildInfo
	visited := make(map[int]bool, len(roots))
	queue := make([]int, 0, len(roots))
	for _, r := range roots {
		if !visited[r] {
			visited[r] = true
			queue = append(queue, r)
		}
	}

	iterations := 0
	for len(queue) > 0 && iterations < maxBFSIterations {
		pid := queue[0]
		queue = queue[1:]
		iterations++

		for _, child := range childrenOf(pid) {
			if visited[child.PID] {
				continue
			}
			visited[child.PID] = true
			out = append(out, child)
			queue = append(queue, child.PID)
		}
	}

	return out, nil
}
