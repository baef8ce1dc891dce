package main

import (
	"fmt"
	"io"

	git "github.com/vcslab/git-go"
	"github.com/spf13/cobra"
)

func newBranchCmd(cfg *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "branch [name]",
		Short: "List or create branches",
		Args:  cobra.MaximumNArgs(1),
	}

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		r, err := loadRepository(cfg)
		if err != nil {
			return err
		}
		defer r.Close() //nolint:errcheck // it's a read-mostly op

		if len(args) == 0 {
			return listBranchesCmd(cmd.OutOrStdout(), r)
		}
		return createBranchCmd(r, args[0])
	}
	return cmd
}

func listBranchesCmd(out io.Writer, r *git.Repository) error {
	branches, err := r.Branches()
	if err != nil {
		return err
	}
	for _, b := range branches {
		marker := " "
		if b.IsCurrent {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %s\n", marker, b.Name)
	}
	return nil
}

func createBranchCmd(r *git.Repository, name string) error {
	head, err := r.Head()
	if err != nil {
		return err
	}
	return r.CreateBranch(name, head.Target())
}
