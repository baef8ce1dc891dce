package main

import (
	"errors"
	"fmt"
	"io"

	git "github.com/vcslab/git-go"
	"github.com/spf13/cobra"
)

func newCommitCmd(cfg *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Record changes to the repository",
		Args:  cobra.NoArgs,
	}

	message := cmd.Flags().StringP("message", "m", "", "Use the given message as the commit message.")
	allowEmpty := cmd.Flags().Bool("allow-empty", false, "Allow recording a commit that has the exact same tree as its parent commit.")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if *message == "" {
			return errors.New("a commit message is required")
		}
		r, err := loadRepository(cfg)
		if err != nil {
			return err
		}
		defer r.Close() //nolint:errcheck // it's a read-mostly op
		return commitCmd(cmd.OutOrStdout(), r, *message, *allowEmpty)
	}
	return cmd
}

func commitCmd(out io.Writer, r *git.Repository, message string, allowEmpty bool) error {
	commit, err := r.Commit(message, git.CommitOptions{
		AllowEmpty: allowEmpty,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "[%s] %s\n", commit.ID().String()[:7], firstLine(message))
	return nil
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
