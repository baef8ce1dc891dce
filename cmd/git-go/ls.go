package main

import (
	"fmt"
	"io"

	git "github.com/vcslab/git-go"
	"github.com/vcslab/git-go/ginternals"
	"github.com/vcslab/git-go/ginternals/object"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"
)

func newLsFilesCmd(cfg *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls-files",
		Short: "Show information about files in the index",
		Args:  cobra.NoArgs,
	}

	stage := cmd.Flags().BoolP("stage", "s", false, "Show staged contents' mode bits, object name and stage number in the output.")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		r, err := loadRepository(cfg)
		if err != nil {
			return err
		}
		defer r.Close() //nolint:errcheck // it's a read-only op
		return lsFilesCmd(cmd.OutOrStdout(), r, *stage)
	}
	return cmd
}

func lsFilesCmd(out io.Writer, r *git.Repository, stage bool) error {
	entries, err := r.LsFiles()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if stage {
			fmt.Fprintf(out, "%o %s %d\t%s\n", e.Mode, e.ID.String(), e.Stage, e.Path)
			continue
		}
		fmt.Fprintln(out, e.Path)
	}
	return nil
}

func newLsTreeCmd(cfg *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls-tree TREE-ISH",
		Short: "List the contents of a tree object",
		Args:  cobra.ExactArgs(1),
	}

	recursive := cmd.Flags().BoolP("r", "r", false, "Recurse into sub-trees.")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		r, err := loadRepository(cfg)
		if err != nil {
			return err
		}
		defer r.Close() //nolint:errcheck // it's a read-only op
		return lsTreeCmd(cmd.OutOrStdout(), r, args[0], *recursive)
	}
	return cmd
}

func lsTreeCmd(out io.Writer, r *git.Repository, name string, recursive bool) error {
	oid, err := ginternals.NewOidFromStr(name)
	if err != nil {
		return xerrors.Errorf("tree-ish %s: %w", name, err)
	}

	// accept a commit and use its tree
	o, err := r.GetObject(oid)
	if err != nil {
		return err
	}
	if o.Type() == object.TypeCommit {
		commit, err := o.AsCommit()
		if err != nil {
			return err
		}
		if o, err = r.GetObject(commit.TreeID()); err != nil {
			return err
		}
	}
	tree, err := o.AsTree()
	if err != nil {
		return err
	}

	if !recursive {
		for _, e := range tree.Entries() {
			fmt.Fprintf(out, "%06o %s %s\t%s\n", e.Mode, e.Mode.ObjectType(), e.ID.String(), e.Path)
		}
		return nil
	}
	return tree.Walk(r.GetTree, false, func(path string, e object.TreeEntry) error {
		fmt.Fprintf(out, "%06o %s %s\t%s\n", e.Mode, e.Mode.ObjectType(), e.ID.String(), path)
		return nil
	})
}
