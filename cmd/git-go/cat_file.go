package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/vcslab/git-go/ginternals"
	"github.com/vcslab/git-go/ginternals/object"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"
)

func newCatFileCmd(cfg *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cat-file [TYPE] OBJECT",
		Short: "Provide content or type and size information for repository objects",
		Args:  cobra.RangeArgs(1, 2),
	}

	typeOnly := cmd.Flags().BoolP("t", "t", false, "Instead of the content, show the object type identified by <object>.")
	sizeOnly := cmd.Flags().BoolP("s", "s", false, "Instead of the content, show the object size identified by <object>.")
	prettyPrint := cmd.Flags().BoolP("p", "p", false, "Pretty-print the contents of <object> based on its type.")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		p := catFileParams{
			typeOnly:    *typeOnly,
			sizeOnly:    *sizeOnly,
			prettyPrint: *prettyPrint,
			objectName:  args[0],
		}
		if len(args) == 2 {
			p.typ = args[0]
			p.objectName = args[1]
		}
		return catFileCmd(cmd.OutOrStdout(), cfg, p)
	}
	return cmd
}

type catFileParams struct {
	typeOnly    bool
	sizeOnly    bool
	prettyPrint bool
	objectName  string
	typ         string
}

func catFileCmd(out io.Writer, cfg *globalFlags, p catFileParams) (err error) {
	// Validate options
	if p.typ != "" && (p.typeOnly || p.sizeOnly || p.prettyPrint) {
		return errors.New("type not supported with options -t, -s, -p")
	}
	if p.typ == "" && !p.typeOnly && !p.sizeOnly && !p.prettyPrint {
		return errors.New("type and object required")
	}
	if p.typeOnly && (p.sizeOnly || p.prettyPrint) {
		return errors.New("options -t, -s, and -p are exclusive")
	}
	if p.sizeOnly && p.prettyPrint {
		return errors.New("option -p not supported with option -s")
	}

	r, err := loadRepository(cfg)
	if err != nil {
		return err
	}
	defer r.Close() //nolint:errcheck // it's a read-only op

	oid, err := ginternals.NewOidFromStr(p.objectName)
	if err != nil {
		return xerrors.Errorf("object name %s: %w", p.objectName, err)
	}
	o, err := r.GetObject(oid)
	if err != nil {
		return err
	}

	switch {
	case p.typeOnly:
		fmt.Fprintln(out, o.Type().String())
	case p.sizeOnly:
		fmt.Fprintln(out, o.Size())
	case p.prettyPrint:
		return prettyPrintObject(out, o)
	default:
		// an explicit type was requested: make sure it matches
		typ, err := object.NewTypeFromString(p.typ)
		if err != nil {
			return xerrors.Errorf("type %s: %w", p.typ, err)
		}
		if typ != o.Type() {
			return xerrors.Errorf("object %s is a %s: %w", p.objectName, o.Type(), object.ErrObjectInvalid)
		}
		_, err = out.Write(o.Bytes())
		return err
	}
	return nil
}

// prettyPrintObject renders an object the way `git cat-file -p`
// does: trees get one line per entry, everything else its raw
// content
func prettyPrintObject(out io.Writer, o *object.Object) error {
	switch o.Type() {
	case object.TypeTree:
		tree, err := o.AsTree()
		if err != nil {
			return err
		}
		for _, e := range tree.Entries() {
			fmt.Fprintf(out, "%06o %s %s\t%s\n", e.Mode, e.Mode.ObjectType(), e.ID.String(), e.Path)
		}
		return nil
	default:
		_, err := out.Write(o.Bytes())
		return err
	}
}
