package main

import (
	"bytes"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	cms "github.com/mdean75/cms-engine"
	"github.com/mdean75/cms-engine/internal/keystore"
)

// keyFlags select the signing key. Set flags override the profile.
type keyFlags struct {
	p12      string
	password string
	key      string
	cert     string
	chain    []string
}

func (f *keyFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.p12, "p12", "", "PKCS #12 bundle holding key and chain")
	cmd.Flags().StringVar(&f.password, "password", "", "PKCS #12 password")
	cmd.Flags().StringVar(&f.key, "key", "", "Private key file (PEM or DER)")
	cmd.Flags().StringVar(&f.cert, "cert", "", "Signer certificate file (PEM or DER)")
	cmd.Flags().StringSliceVar(&f.chain, "chain", nil, "Additional chain certificate files")
}

func (f *keyFlags) load(a *app) (cms.KeyEntry, error) {
	src := a.profile.KeySource()
	if f.p12 != "" {
		src.PKCS12File, src.KeyFile, src.CertFile = f.p12, "", ""
	}
	if f.password != "" {
		src.Password = f.password
	}
	if f.key != "" || f.cert != "" {
		src.PKCS12File, src.KeyFile, src.CertFile = "", f.key, f.cert
	}
	if len(f.chain) > 0 {
		src.ChainFiles = f.chain
	}
	entry, err := keystore.Load(src)
	if err != nil {
		return cms.KeyEntry{}, fmt.Errorf("loading signing key: %w", err)
	}
	return entry, nil
}

// signFlags are shared by every command that produces a SignerInfo.
type signFlags struct {
	keyFlags
	algorithm     string
	mode          string
	noSigningTime bool
	contentHint   bool
	params        map[string]string
	output        output
}

func (f *signFlags) register(cmd *cobra.Command) {
	f.keyFlags.register(cmd)
	cmd.Flags().StringVarP(&f.algorithm, "algorithm", "a", "", "Signature algorithm (e.g. SHA256withRSA, SHA384withECDSA, Ed25519)")
	cmd.Flags().StringVar(&f.mode, "mode", "", "implicit (embed content) or explicit (detached)")
	cmd.Flags().BoolVar(&f.noSigningTime, "no-signing-time", false, "Omit the signing-time attribute")
	cmd.Flags().BoolVar(&f.contentHint, "content-hint", false, "Add a content-hints attribute from the detected MIME type")
	cmd.Flags().StringToStringVar(&f.params, "param", nil, "Extra parameters (mode, applySystemDate, precalculatedHashAlgorithm)")
	f.output.register(cmd)
}

// resolve merges the profile with the flags.
func (f *signFlags) resolve(a *app) (cms.Algorithm, cms.KeyEntry, []cms.Option, error) {
	alg, err := a.profile.SignatureAlgorithm()
	if err != nil {
		return 0, cms.KeyEntry{}, nil, err
	}
	if f.algorithm != "" {
		if alg, err = cms.ParseAlgorithm(f.algorithm); err != nil {
			return 0, cms.KeyEntry{}, nil, err
		}
	}
	opts, err := a.profile.Options()
	if err != nil {
		return 0, cms.KeyEntry{}, nil, err
	}
	if f.mode != "" {
		m, err := cms.ParseMode(f.mode)
		if err != nil {
			return 0, cms.KeyEntry{}, nil, err
		}
		opts = append(opts, cms.WithMode(m))
	}
	if f.noSigningTime {
		opts = append(opts, cms.WithApplySystemDate(false))
	}
	if f.contentHint {
		opts = append(opts, cms.WithDetectedContentHint())
	}
	extra, err := cms.ParseExtraParams(f.params)
	if err != nil {
		return 0, cms.KeyEntry{}, nil, err
	}
	opts = append(opts, extra...)

	key, err := f.load(a)
	if err != nil {
		return 0, cms.KeyEntry{}, nil, err
	}
	return alg, key, opts, nil
}

// output writes results as DER or PEM to a file or stdout.
type output struct {
	path string
	pem  bool
}

func (o *output) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.path, "out", "o", "", "Output file (default stdout)")
	cmd.Flags().BoolVar(&o.pem, "pem", false, "PEM armour the output as a PKCS7 block")
}

func (o *output) write(cmd *cobra.Command, der []byte) error {
	data := der
	if o.pem {
		data = pem.EncodeToMemory(&pem.Block{Type: "PKCS7", Bytes: der})
	}
	return writeData(cmd, o.path, data)
}

func writeData(cmd *cobra.Command, path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// readBlob reads a signature file, removing PEM armour when present.
func readBlob(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if bytes.Contains(data, []byte("-----BEGIN ")) {
		block, _ := pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("%s: invalid PEM block", path)
		}
		return block.Bytes, nil
	}
	return data, nil
}

func readContent(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}
