package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	git "github.com/vcslab/git-go"
	"github.com/spf13/cobra"
)

func newRemoteCmd(cfg *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote [add NAME URL]",
		Short: "Manage the set of tracked repositories",
		Args:  cobra.MaximumNArgs(3),
	}

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		r, err := loadRepository(cfg)
		if err != nil {
			return err
		}
		defer r.Close() //nolint:errcheck // it's a read-mostly op

		switch len(args) {
		case 0:
			return listRemotesCmd(cmd.OutOrStdout(), r)
		case 3:
			if args[0] != "add" {
				return errors.New("only `remote add NAME URL` is supported")
			}
			return r.AddRemote(args[1], args[2])
		default:
			return errors.New("only `remote` and `remote add NAME URL` are supported")
		}
	}
	return cmd
}

func listRemotesCmd(out io.Writer, r *git.Repository) error {
	for _, remote := range r.Remotes() {
		fmt.Fprintf(out, "%s\t%s\n", remote.Name, remote.URL)
	}
	return nil
}

func newFetchCmd(cfg *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch [remote]",
		Short: "Download objects and refs from another repository",
		Args:  cobra.MaximumNArgs(1),
	}

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		remote := git.DefaultRemote
		if len(args) > 0 {
			remote = args[0]
		}
		r, err := loadRepository(cfg)
		if err != nil {
			return err
		}
		defer r.Close() //nolint:errcheck // it's a read-mostly op

		res, err := r.Fetch(remote)
		if err != nil {
			return err
		}
		for ref, oid := range res.UpdatedRefs {
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", oid.String()[:7], ref)
		}
		return nil
	}
	return cmd
}

func newPushCmd(cfg *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push REMOTE BRANCH",
		Short: "Update remote refs along with associated objects",
		Args:  cobra.ExactArgs(2),
	}

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		r, err := loadRepository(cfg)
		if err != nil {
			return err
		}
		defer r.Close() //nolint:errcheck // it's a read-mostly op

		res, err := r.Push(args[0], args[1])
		if err != nil {
			return err
		}
		for ref, status := range res.RefStatus {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", ref, status)
		}
		return nil
	}
	return cmd
}

func newCloneCmd(cfg *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clone URL [directory]",
		Short: "Clone a repository into a new directory",
		Args:  cobra.RangeArgs(1, 2),
	}

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return cloneCmd(cmd.OutOrStdout(), cfg, args)
	}
	return cmd
}

func cloneCmd(out io.Writer, cfg *globalFlags, args []string) error {
	url := args[0]
	directory := cfg.C.String()
	if len(args) == 2 {
		if filepath.IsAbs(args[1]) {
			directory = args[1]
		} else {
			directory = filepath.Join(directory, args[1])
		}
	}

	fmt.Fprintf(out, "Cloning into '%s'...\n", directory)
	r, err := git.Clone(url, directory, git.CloneOptions{})
	if err != nil {
		return err
	}
	return r.Close()
}
