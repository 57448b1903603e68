package main

import (
	"crypto/x509"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	cms "github.com/mdean75/cms-engine"
	"github.com/mdean75/cms-engine/internal/keystore"
)

func newSignCmd(a *app) *cobra.Command {
	var (
		f  signFlags
		in string
	)
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Create a CMS SignedData signature",
		Long: `Create a CMS SignedData signature with a single signer.

In implicit mode (default) the content is embedded; in explicit mode the
signature is detached. With --param precalculatedHashAlgorithm=SHA-256 the
input file holds the digest instead of the content.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			content, err := readContent(in)
			if err != nil {
				return err
			}
			alg, key, opts, err := f.resolve(a)
			if err != nil {
				return err
			}
			out, err := a.engine(cmd).Sign(content, alg, key, opts...)
			if err != nil {
				return fmt.Errorf("sign: %w", err)
			}
			return f.output.write(cmd, out)
		},
	}
	cmd.Flags().StringVarP(&in, "in", "i", "", "Content to sign (required)")
	_ = cmd.MarkFlagRequired("in")
	f.register(cmd)
	return cmd
}

func newCosignCmd(a *app) *cobra.Command {
	var (
		f  signFlags
		in string
	)
	cmd := &cobra.Command{
		Use:   "cosign <signature>",
		Short: "Add a parallel signer to an existing signature",
		Long: `Add a top-level signer to an existing signature.

Without --in the content (or, for detached signatures, the digest of an
existing signer) is taken from the signature itself.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			blob, err := readBlob(args[0])
			if err != nil {
				return err
			}
			content, err := readContent(in)
			if err != nil {
				return err
			}
			alg, key, opts, err := f.resolve(a)
			if err != nil {
				return err
			}
			engine := a.engine(cmd)
			var out []byte
			if content == nil {
				out, err = engine.CosignBlob(blob, alg, key, opts...)
			} else {
				out, err = engine.Cosign(content, blob, alg, key, opts...)
			}
			if err != nil {
				return fmt.Errorf("cosign: %w", err)
			}
			return f.output.write(cmd, out)
		},
	}
	cmd.Flags().StringVarP(&in, "in", "i", "", "Signed content, when the signature is detached")
	f.register(cmd)
	return cmd
}

func newCountersignCmd(a *app) *cobra.Command {
	var (
		f           signFlags
		target      string
		indices     []int
		signers     []string
		signerCerts []string
	)
	cmd := &cobra.Command{
		Use:   "countersign <signature>",
		Short: "Countersign selected signers of an existing signature",
		Long: `Countersign nodes of the signer tree.

Targets:
  tree     every top-level signer
  leafs    every signer without countersignatures
  nodes    the nodes given by --index (see "cmssign tree")
  signers  the nodes whose certificate matches --signer or --signer-cert`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			blob, err := readBlob(args[0])
			if err != nil {
				return err
			}
			sel, err := selection(target, indices, signers, signerCerts)
			if err != nil {
				return err
			}
			alg, key, opts, err := f.resolve(a)
			if err != nil {
				return err
			}
			a.logger.Debug("countersigning", zap.Stringer("target", sel.Policy()))
			out, err := a.engine(cmd).Countersign(blob, alg, sel, key, opts...)
			if err != nil {
				return fmt.Errorf("countersign: %w", err)
			}
			return f.output.write(cmd, out)
		},
	}
	cmd.Flags().StringVarP(&target, "target", "t", "leafs", "Selection policy: tree, leafs, nodes or signers")
	cmd.Flags().IntSliceVar(&indices, "index", nil, "Node indices for --target nodes")
	cmd.Flags().StringSliceVar(&signers, "signer", nil, "Subject DN or common name for --target signers")
	cmd.Flags().StringSliceVar(&signerCerts, "signer-cert", nil, "Certificate files for --target signers")
	f.register(cmd)
	return cmd
}

func selection(target string, indices []int, signers, certFiles []string) (cms.Selection, error) {
	switch strings.ToLower(target) {
	case "tree":
		return cms.TreeTargets(), nil
	case "leafs", "leaves":
		return cms.LeafTargets(), nil
	case "nodes":
		return cms.NodeTargets(indices...), nil
	case "signers":
		if len(certFiles) == 0 {
			return cms.SignerTargets(signers...), nil
		}
		if len(signers) > 0 {
			return cms.Selection{}, errors.New("--signer and --signer-cert are mutually exclusive")
		}
		var certs []*x509.Certificate
		for _, f := range certFiles {
			c, err := keystore.LoadCertificatesFile(f)
			if err != nil {
				return cms.Selection{}, err
			}
			certs = append(certs, c...)
		}
		return cms.SignerCertificateTargets(certs...), nil
	}
	return cms.Selection{}, fmt.Errorf("unknown target %q", target)
}

func newEnvelopeCmd(a *app) *cobra.Command {
	var (
		f          signFlags
		in         string
		recipients []string
		cipher     string
	)
	cmd := &cobra.Command{
		Use:   "envelope",
		Short: "Sign and encrypt content as PKCS #7 SignedAndEnvelopedData",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			content, err := readContent(in)
			if err != nil {
				return err
			}
			var certs []*x509.Certificate
			for _, r := range recipients {
				c, err := keystore.LoadCertificatesFile(r)
				if err != nil {
					return err
				}
				certs = append(certs, c[0])
			}
			alg, key, opts, err := f.resolve(a)
			if err != nil {
				return err
			}
			if cipher != "" {
				enc, err := cms.ParseContentEncryption(cipher)
				if err != nil {
					return err
				}
				opts = append(opts, cms.WithContentEncryption(enc))
			}
			out, err := a.engine(cmd).SignAndEnvelope(content, certs, alg, key, opts...)
			if err != nil {
				return fmt.Errorf("envelope: %w", err)
			}
			return f.output.write(cmd, out)
		},
	}
	cmd.Flags().StringVarP(&in, "in", "i", "", "Content to sign and encrypt (required)")
	cmd.Flags().StringSliceVarP(&recipients, "recipient", "r", nil, "Recipient certificate files (required)")
	cmd.Flags().StringVar(&cipher, "cipher", "", "Content cipher (AES-256-CBC, AES-128-CBC, AES-256-GCM, AES-128-GCM)")
	_ = cmd.MarkFlagRequired("in")
	_ = cmd.MarkFlagRequired("recipient")
	f.register(cmd)
	return cmd
}
