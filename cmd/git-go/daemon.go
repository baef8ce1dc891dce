package main

import (
	"os"
	"path/filepath"

	git "github.com/vcslab/git-go"
	"github.com/vcslab/git-go/backend"
	"github.com/vcslab/git-go/backend/fsbackend"
	"github.com/vcslab/git-go/ginternals/wire"
	"github.com/vcslab/git-go/internal/gitlog"
	"github.com/vcslab/git-go/internal/gitpath"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newDaemonCmd(cfg *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Serve the repositories below the base path over TCP",
		Args:  cobra.NoArgs,
	}

	addr := cmd.Flags().String("listen", ":9418", "Address to listen on.")
	basePath := cmd.Flags().String("base-path", "", "Remap all the path requests as relative to the given path. Defaults to the current directory.")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		base := *basePath
		if base == "" {
			base = cfg.C.String()
		}
		return daemonCmd(base, *addr)
	}
	return cmd
}

func daemonCmd(basePath, addr string) error {
	fs := afero.NewOsFs()

	open := func(path string) (backend.Backend, error) {
		repoPath := filepath.Join(basePath, filepath.FromSlash(path))
		dotGit := filepath.Join(repoPath, gitpath.DotGitPath)
		if exists, _ := afero.DirExists(fs, dotGit); !exists {
			// no .git directory, maybe a bare repository
			dotGit = repoPath
		}
		if exists, _ := afero.Exists(fs, filepath.Join(dotGit, gitpath.HEADPath)); !exists {
			return nil, git.ErrRepositoryNotExist
		}
		return fsbackend.New(fs, dotGit)
	}

	// the daemon is the one place where the diagnostics go to a
	// real sink
	server := wire.NewServer(open, gitlog.New(os.Stderr))
	return server.ListenAndServe(addr)
}
