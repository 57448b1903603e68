package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	cms "github.com/mdean75/cms-engine"
	"github.com/mdean75/cms-engine/contenthint"
)

func newTreeCmd(_ *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tree <signature>",
		Short: "Print the signer tree with node indices",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			blob, err := readBlob(args[0])
			if err != nil {
				return err
			}
			roots, err := cms.BuildTree(blob)
			if err != nil {
				return fmt.Errorf("tree: %w", err)
			}
			for _, r := range roots {
				printNode(cmd.OutOrStdout(), r, 0)
			}
			return nil
		},
	}
}

func printNode(w io.Writer, n *cms.SignerNode, depth int) {
	subject := n.Subject
	if subject == "" {
		subject = "(certificate not embedded)"
	}
	fmt.Fprintf(w, "%s[%d] %s %s", strings.Repeat("  ", depth), n.Index, subject, n.SignatureAlgorithm)
	if !n.SigningTime.IsZero() {
		fmt.Fprintf(w, " %s", n.SigningTime.UTC().Format(time.RFC3339))
	}
	fmt.Fprintln(w)
	for _, c := range n.Children {
		printNode(w, c, depth+1)
	}
}

func newInfoCmd(_ *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info <file>",
		Short: "Classify a file and summarise a signature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			blob, err := readBlob(args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if !cms.IsSign(blob) {
				fmt.Fprintf(w, "Format:       %s\n", cms.Classify(blob))
				fmt.Fprintf(w, "Signed name:  %s\n", cms.SignedFileName(args[0], ""))
				return nil
			}
			info, err := cms.Info(blob)
			if err != nil {
				return fmt.Errorf("info: %w", err)
			}
			fmt.Fprintf(w, "Format:       %s (%s)\n", info.Format, info.Variant)
			fmt.Fprintf(w, "Content type: %s\n", info.ContentType)
			fmt.Fprintf(w, "Signers:      %d\n", info.Signers)
			fmt.Fprintf(w, "Nodes:        %d\n", info.Nodes)
			fmt.Fprintf(w, "Detached:     %t\n", info.Detached)
			if hint := cms.ExtractMimeTypeHint(blob); hint != "" {
				fmt.Fprintf(w, "Content hint: %s\n", hint)
			}
			return nil
		},
	}
}

func newExtractCmd(_ *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "extract <signature>",
		Short: "Write the embedded content of a signature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			blob, err := readBlob(args[0])
			if err != nil {
				return err
			}
			content, err := cms.ExtractContent(blob)
			if err != nil {
				return fmt.Errorf("extract: %w", err)
			}
			return writeData(cmd, out, content)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default stdout)")
	return cmd
}

func newMimeCmd(_ *app) *cobra.Command {
	var oidOnly bool
	cmd := &cobra.Command{
		Use:   "mime <signature>",
		Short: "Print the MIME type from the content-hints attribute",
		Long: `Print the MIME type recorded in the first content-hints attribute.
When no hint is present the MIME type is sniffed from the embedded content.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			blob, err := readBlob(args[0])
			if err != nil {
				return err
			}
			oid := cms.ExtractMimeTypeHint(blob)
			if oidOnly {
				fmt.Fprintln(cmd.OutOrStdout(), oid)
				return nil
			}
			if mt := contenthint.MIMEType(oid); mt != "" {
				fmt.Fprintln(cmd.OutOrStdout(), mt)
				return nil
			}
			content, err := cms.ExtractContent(blob)
			if err != nil {
				return fmt.Errorf("mime: no content hint: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), contenthint.DetectMIME(content))
			return nil
		},
	}
	cmd.Flags().BoolVar(&oidOnly, "oid", false, "Print the hint OID instead of the MIME type")
	return cmd
}
