package main

import (
	"io"
	"path/filepath"

	git "github.com/vcslab/git-go"
	"github.com/spf13/cobra"
)

// initCmdFlags represents the flags accepted by the init command
type initCmdFlags struct {
	initialBranch string
	bare          bool
	quiet         bool
}

func newInitCmd(cfg *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "init a new git repository",
		Args:  cobra.MaximumNArgs(1),
	}

	flags := initCmdFlags{}
	cmd.Flags().StringVarP(&flags.initialBranch, "initial-branch", "b", "", "Use the specified name for the initial branch in the newly created repository.")
	cmd.Flags().BoolVar(&flags.bare, "bare", false, "Create a bare repository.")
	cmd.Flags().BoolVarP(&flags.quiet, "quiet", "q", false, "Only print error and warning messages; all other output will be suppressed.")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		directory := cfg.C.String()
		if len(args) > 0 {
			if filepath.IsAbs(args[0]) {
				directory = args[0]
			} else {
				directory = filepath.Join(directory, args[0])
			}
		}
		return initCmd(cmd.OutOrStdout(), flags, directory)
	}

	return cmd
}

func initCmd(out io.Writer, flags initCmdFlags, directory string) error {
	r, err := git.InitRepositoryWithOptions(directory, git.InitOptions{
		IsBare:            flags.bare,
		InitialBranchName: flags.initialBranch,
	})
	if err != nil {
		return err
	}
	fprintln(flags.quiet, out, "Initialized empty Git repository in", directory)
	return r.Close()
}
