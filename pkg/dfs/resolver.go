package dfs

import (
	"os"
	"path"
	"strings"

	"github.com/dfsio/parfs/pkg/engine"
)

// ResolvedPath is the (parent directory, leaf name) decomposition of an
// input path. For the namespace root the leaf is empty and the parent is
// the root marker. Computed fresh per operation, never cached.
type ResolvedPath struct {
	// Parent is the absolute, normalized directory path
	Parent string

	// Leaf is the final path component, empty for the root
	Leaf string
}

// IsRoot reports whether the resolved path is the namespace root.
func (rp ResolvedPath) IsRoot() bool {
	return rp.Leaf == ""
}

// Resolve splits an input path into its parent directory and leaf name,
// normalizing a relative parent against the process working directory.
//
// Resolution performs no existence checks; it is pure string manipulation.
// Fails with InvalidArgument on an empty path.
func Resolve(p string) (ResolvedPath, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return ResolvedPath{}, engine.NewError(engine.ErrIO, "cannot determine working directory")
	}
	return resolveAgainst(p, cwd)
}

func resolveAgainst(p, cwd string) (ResolvedPath, error) {
	if p == "" {
		return ResolvedPath{}, engine.NewError(engine.ErrInvalidArgument, "empty path")
	}

	if p == "/" {
		return ResolvedPath{Parent: "/", Leaf: ""}, nil
	}

	dir := path.Dir(p)
	leaf := path.Base(p)

	// A relative parent is anchored at the working directory. "." collapses
	// to the working directory itself; "./x" and bare "x/y" concatenate.
	if strings.HasPrefix(dir, ".") || !strings.HasPrefix(dir, "/") {
		switch {
		case dir == ".":
			dir = cwd
		case strings.HasPrefix(dir, "."):
			dir = cwd + dir[1:]
		default:
			dir = cwd + "/" + dir
		}
	}

	return ResolvedPath{Parent: path.Clean(dir), Leaf: leaf}, nil
}
