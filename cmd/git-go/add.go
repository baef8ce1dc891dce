package main

import (
	git "github.com/vcslab/git-go"
	"github.com/spf13/cobra"
)

func newAddCmd(cfg *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add PATH...",
		Short: "Add file contents to the index",
		Args:  cobra.MinimumNArgs(1),
	}

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		r, err := loadRepository(cfg)
		if err != nil {
			return err
		}
		defer r.Close() //nolint:errcheck // it's a read-mostly op
		return r.Add(args...)
	}
	return cmd
}

func newRmCmd(cfg *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm PATH...",
		Short: "Remove files from the working tree and from the index",
		Args:  cobra.MinimumNArgs(1),
	}

	cached := cmd.Flags().Bool("cached", false, "Unstage and remove paths only from the index. Working tree files will be left alone.")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		r, err := loadRepository(cfg)
		if err != nil {
			return err
		}
		defer r.Close() //nolint:errcheck // it's a read-mostly op
		return r.Rm(args, git.RmOptions{KeepFile: *cached})
	}
	return cmd
}
