package main

import (
	"fmt"
	"io"

	git "github.com/vcslab/git-go"
	"github.com/spf13/cobra"
)

func newLogCmd(cfg *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show commit logs",
		Args:  cobra.NoArgs,
	}

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		r, err := loadRepository(cfg)
		if err != nil {
			return err
		}
		defer r.Close() //nolint:errcheck // it's a read-only op
		return logCmd(cmd.OutOrStdout(), r)
	}
	return cmd
}

func logCmd(out io.Writer, r *git.Repository) error {
	commits, err := r.Log()
	if err != nil {
		return err
	}
	for _, c := range commits {
		fmt.Fprintf(out, "commit %s\n", c.ID().String())
		fmt.Fprintf(out, "Author: %s <%s>\n", c.Author().Name, c.Author().Email)
		fmt.Fprintf(out, "Date:   %s\n", c.Author().Time.Format("Mon Jan 2 15:04:05 2006 -0700"))
		fmt.Fprintln(out)
		fmt.Fprintf(out, "    %s\n", c.Message())
		fmt.Fprintln(out)
	}
	return nil
}
