package main

import (
	"fmt"
	"io"

	git "github.com/vcslab/git-go"
	"github.com/vcslab/git-go/ginternals/changes"
	"github.com/spf13/cobra"
)

func newStatusCmd(cfg *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the working tree status",
		Args:  cobra.NoArgs,
	}

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		r, err := loadRepository(cfg)
		if err != nil {
			return err
		}
		defer r.Close() //nolint:errcheck // it's a read-only op
		return statusCmd(cmd.OutOrStdout(), r)
	}
	return cmd
}

func statusCmd(out io.Writer, r *git.Repository) error {
	status, err := r.Status()
	if err != nil {
		return err
	}

	if len(status.Staged) > 0 {
		fmt.Fprintln(out, "Changes to be committed:")
		for _, c := range status.Staged {
			switch c.Kind {
			case changes.KindRenamed:
				fmt.Fprintf(out, "\t%s:    %s -> %s\n", c.Kind, c.From, c.Path)
			default:
				fmt.Fprintf(out, "\t%s:    %s\n", c.Kind, c.Path)
			}
		}
		fmt.Fprintln(out)
	}

	if len(status.Unmerged) > 0 {
		fmt.Fprintln(out, "Unmerged paths:")
		for _, path := range status.Unmerged {
			fmt.Fprintf(out, "\tboth modified:    %s\n", path)
		}
		fmt.Fprintln(out)
	}

	if len(status.NotStaged) > 0 {
		fmt.Fprintln(out, "Changes not staged for commit:")
		for _, c := range status.NotStaged {
			fmt.Fprintf(out, "\t%s:    %s\n", c.Kind, c.Path)
		}
		fmt.Fprintln(out)
	}

	if len(status.Untracked) > 0 {
		fmt.Fprintln(out, "Untracked files:")
		for _, path := range status.Untracked {
			fmt.Fprintf(out, "\t%s\n", path)
		}
		fmt.Fprintln(out)
	}

	if len(status.Staged) == 0 && len(status.NotStaged) == 0 &&
		len(status.Untracked) == 0 && len(status.Unmerged) == 0 {
		fmt.Fprintln(out, "nothing to commit, working tree clean")
	}
	return nil
}
