package main

import (
	"fmt"
	"io"

	git "github.com/vcslab/git-go"
	"github.com/vcslab/git-go/internal/pathutil"
)

// loadRepository opens the repository containing the directory the
// command runs in
func loadRepository(cfg *globalFlags) (*git.Repository, error) {
	root, err := pathutil.RepoRootFromPath(cfg.C.String())
	if err != nil {
		return nil, err
	}
	return git.OpenRepository(root)
}

func fprintln(quiet bool, out io.Writer, msg ...interface{}) {
	if !quiet {
		fmt.Fprintln(out, msg...)
	}
}
