// Package proctree walks the Linux process table to find the descendants of
// a container's main process. The table is rebuilt from a single full scan
// per tick; traversal then runs against an in-memory parent index so deep
// process trees never trigger repeated /proc scans.
package proctree

import (
	"github.com/prometheus/procfs"
)

// Table is a point-in-time snapshot of parent→children process links.
type Table struct {
	children map[int][]int
}

// Scan reads the process table mounted at procPath (normally "/proc") and
// builds the parent index. Individual processes that vanish between listing
// and reading their stat record, or whose stat record cannot be parsed, are
// skipped: racing process exit is routine, not an error. Only an unreadable
// table root returns an error.
func Scan(procPath string) (*Table, error) {
	fs, err := procfs.NewFS(procPath)
	if err != nil {
		return nil, err
	}
	procs, err := fs.AllProcs()
	if err != nil {
		return nil, err
	}

	t := &Table{children: make(map[int][]int, len(procs))}
	for _, proc := range procs {
		stat, err := proc.Stat()
		if err != nil {
			continue
		}
		t.children[stat.PPID] = append(t.children[stat.PPID], proc.PID)
	}
	return t, nil
}

// New builds a Table directly from pid→ppid links. Used by tests and by
// callers that already hold a process snapshot.
func New(ppids map[int]int) *Table {
	t := &Table{children: make(map[int][]int, len(ppids))}
	for pid, ppid := range ppids {
		t.children[ppid] = append(t.children[ppid], pid)
	}
	return t
}

// Descendants returns the set of PIDs reachable from root by following child
// links, root included. Traversal is breadth-first with a visited guard, so
// every PID appears exactly once regardless of tree shape.
func (t *Table) Descendants(root int) []int {
	descendants := []int{root}
	visited := map[int]bool{root: true}
	frontier := []int{root}

	for len(frontier) > 0 {
		pid := frontier[0]
		frontier = frontier[1:]
		for _, child := range t.children[pid] {
			if visited[child] {
				continue
			}
			visited[child] = true
			descendants = append(descendants, child)
			frontier = append(frontier, child)
		}
	}

	return descendants
}
