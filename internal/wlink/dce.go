package wlink

import "github.com/wbpf/wlink/internal/wobj"

// globalDCE implements spec §4.5.e: build a call graph over the merged
// function table, compute the set reachable from the configured root
// names by depth-first search, and drop every unreachable function
// while preserving the relative order of survivors. A configured root
// name that names no function is silently skipped.
func (l *Linker) globalDCE() {
	reachable := make([]bool, len(l.order))
	visited := make([]bool, len(l.order))

	var dfs func(idx int)
	dfs = func(idx int) {
		if visited[idx] {
			return
		}
		visited[idx] = true
		reachable[idx] = true

		f := l.functionAt(l.order[idx])
		for _, ai := range f.Code {
			if ai.CallTarget == nil {
				continue
			}
			targetName := qualifyCallTarget(l, *ai.CallTarget)
			if targetIdx, ok := l.byName[targetName]; ok {
				dfs(targetIdx)
			}
		}
	}

	for _, root := range l.opts.DCERoots {
		if idx, ok := l.byName[root]; ok {
			dfs(idx)
		}
	}

	survivors := make([]fn, 0, len(l.order))
	newByName := make(map[string]int, len(l.order))
	for idx, entry := range l.order {
		if !reachable[idx] {
			continue
		}
		newByName[entry.qualName] = len(survivors)
		survivors = append(survivors, entry)
	}
	l.order = survivors
	l.byName = newByName
}

// qualifyCallTarget renders a resolved CallTarget back into its merged-
// table key, for graph traversal.
func qualifyCallTarget(l *Linker, ct wobj.CallTarget) string {
	f := l.objects[ct.ObjectIndex].Functions[ct.FuncIndex]
	return qualify(l.objects[ct.ObjectIndex].Name, f)
}
