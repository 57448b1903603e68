package main

import (
	"crypto/x509"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	cms "github.com/mdean75/cms-engine"
	"github.com/mdean75/cms-engine/internal/keystore"
)

func newVerifyCmd(a *app) *cobra.Command {
	var (
		in      string
		caFiles []string
		noChain bool
	)
	cmd := &cobra.Command{
		Use:   "verify <signature>",
		Short: "Verify every signer and countersigner",
		Long: `Verify every signature in the signer tree.

For detached signatures provide the content with --in. Without --ca the
system trust store is used; --no-chain checks signatures only.`,
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
			var opts []cms.VerifyOption
			switch {
			case noChain:
				opts = append(opts, cms.WithNoChainValidation())
			case len(caFiles) > 0:
				pool := x509.NewCertPool()
				for _, f := range caFiles {
					certs, err := keystore.LoadCertificatesFile(f)
					if err != nil {
						return err
					}
					for _, c := range certs {
						pool.AddCert(c)
					}
				}
				opts = append(opts, cms.WithTrustRoots(pool))
			default:
				opts = append(opts, cms.WithSystemTrustStore())
			}
			if err := cms.Verify(blob, content, opts...); err != nil {
				return fmt.Errorf("verify: %w", err)
			}
			a.logger.Debug("verified", zap.String("file", args[0]))
			fmt.Fprintln(cmd.OutOrStdout(), "Verification successful")
			return nil
		},
	}
	cmd.Flags().StringVarP(&in, "in", "i", "", "Signed content for detached signatures")
	cmd.Flags().StringSliceVar(&caFiles, "ca", nil, "Trust anchor certificate files")
	cmd.Flags().BoolVar(&noChain, "no-chain", false, "Skip certificate chain validation")
	return cmd
}

func newDecryptCmd(a *app) *cobra.Command {
	var (
		kf  keyFlags
		out string
	)
	cmd := &cobra.Command{
		Use:   "decrypt <envelope>",
		Short: "Decrypt the content of a SignedAndEnvelopedData structure",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			blob, err := readBlob(args[0])
			if err != nil {
				return err
			}
			entry, err := kf.load(a)
			if err != nil {
				return err
			}
			content, err := cms.DecryptContent(blob, entry.Signer, entry.Certificate)
			if err != nil {
				return fmt.Errorf("decrypt: %w", err)
			}
			return writeData(cmd, out, content)
		},
	}
	kf.register(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default stdout)")
	return cmd
}
