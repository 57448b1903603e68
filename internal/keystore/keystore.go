// Package keystore loads signing keys and certificate chains from PEM or DER
// files and PKCS #12 bundles.
package keystore

import (
	"bytes"
	"crypto"
	"crypto/dsa" //nolint:staticcheck
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"

	"github.com/cloudflare/circl/sign/ed448"
	"software.sslmate.com/src/go-pkcs12"

	cms "github.com/mdean75/cms-engine"
)

// Common errors
var (
	ErrNoCertFound     = errors.New("no certificate found in data")
	ErrNoKeyFound      = errors.New("no private key found in data")
	ErrUnknownKeyType  = errors.New("unknown private key type")
	ErrInvalidPEMBlock = errors.New("invalid PEM block")
	ErrNoSource        = errors.New("no key source configured")
)

var oidEd448 = asn1.ObjectIdentifier{1, 3, 101, 113}

// Source names where a key entry comes from. Either PKCS12File or both
// KeyFile and CertFile must be set.
type Source struct {
	PKCS12File string
	KeyFile    string
	CertFile   string
	// ChainFiles hold further certificates appended to the chain.
	ChainFiles []string
	// Password decrypts the PKCS #12 bundle.
	Password string
}

// Load reads the key entry described by src.
func Load(src Source) (cms.KeyEntry, error) {
	var entry cms.KeyEntry
	var err error
	switch {
	case src.PKCS12File != "":
		data, rerr := os.ReadFile(src.PKCS12File)
		if rerr != nil {
			return cms.KeyEntry{}, fmt.Errorf("failed to read file %s: %w", src.PKCS12File, rerr)
		}
		entry, err = LoadPKCS12(data, src.Password)
	case src.KeyFile != "" && src.CertFile != "":
		entry, err = loadPemDer(src.KeyFile, src.CertFile)
	default:
		return cms.KeyEntry{}, ErrNoSource
	}
	if err != nil {
		return cms.KeyEntry{}, err
	}
	for _, f := range src.ChainFiles {
		certs, err := LoadCertificatesFile(f)
		if err != nil {
			return cms.KeyEntry{}, fmt.Errorf("failed to load certs from %s: %w", f, err)
		}
		entry.Chain = append(entry.Chain, certs...)
	}
	return entry, nil
}

func loadPemDer(keyFile, certFile string) (cms.KeyEntry, error) {
	keyData, err := os.ReadFile(keyFile)
	if err != nil {
		return cms.KeyEntry{}, fmt.Errorf("failed to read file %s: %w", keyFile, err)
	}
	signer, err := LoadPrivateKey(keyData)
	if err != nil {
		return cms.KeyEntry{}, fmt.Errorf("loading %s: %w", keyFile, err)
	}
	certs, err := LoadCertificatesFile(certFile)
	if err != nil {
		return cms.KeyEntry{}, err
	}
	return cms.KeyEntry{Signer: signer, Certificate: certs[0], Chain: certs}, nil
}

// LoadPKCS12 decodes a PKCS #12 bundle. The chain is the leaf followed by
// the bundle's CA certificates.
func LoadPKCS12(data []byte, password string) (cms.KeyEntry, error) {
	key, cert, caCerts, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return cms.KeyEntry{}, fmt.Errorf("decoding PKCS #12: %w", err)
	}
	signer, err := toSigner(key)
	if err != nil {
		return cms.KeyEntry{}, err
	}
	return cms.KeyEntry{
		Signer:      signer,
		Certificate: cert,
		Chain:       append([]*x509.Certificate{cert}, caCerts...),
	}, nil
}

// LoadCertificatesFile loads certificates from a PEM or DER encoded file.
func LoadCertificatesFile(filename string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return LoadCertificates(data)
}

// LoadCertificates loads every certificate from PEM or DER encoded data.
func LoadCertificates(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	if isPEM(data) {
		rest := data
		for len(rest) > 0 {
			var block *pem.Block
			block, rest = pem.Decode(rest)
			if block == nil {
				break
			}
			if block.Type != "CERTIFICATE" {
				continue
			}
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("failed to parse certificate: %w", err)
			}
			certs = append(certs, cert)
		}
	} else {
		parsed, err := x509.ParseCertificates(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DER certificate: %w", err)
		}
		certs = parsed
	}
	if len(certs) == 0 {
		return nil, ErrNoCertFound
	}
	return certs, nil
}

// LoadPrivateKey parses a PEM or DER private key. PKCS #8, PKCS #1, SEC 1
// and OpenSSL DSA encodings are accepted, as are Ed448 PKCS #8 keys.
func LoadPrivateKey(data []byte) (crypto.Signer, error) {
	if isPEM(data) {
		block, _ := pem.Decode(data)
		if block == nil {
			return nil, ErrInvalidPEMBlock
		}
		return parsePrivateKeyByType(block.Type, block.Bytes)
	}
	for _, blockType := range []string{"PRIVATE KEY", "RSA PRIVATE KEY", "EC PRIVATE KEY", "DSA PRIVATE KEY"} {
		if key, err := parsePrivateKeyByType(blockType, data); err == nil {
			return key, nil
		}
	}
	return nil, ErrNoKeyFound
}

func parsePrivateKeyByType(blockType string, der []byte) (crypto.Signer, error) {
	switch blockType {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(der)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(der)
	case "DSA PRIVATE KEY":
		key, err := parseDSAPrivateKey(der)
		if err != nil {
			return nil, err
		}
		return cms.NewDSASigner(key), nil
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(der)
		if err != nil {
			if ed, edErr := parseEd448PKCS8(der); edErr == nil {
				return ed, nil
			}
			return nil, fmt.Errorf("failed to parse PKCS#8 private key: %w", err)
		}
		return toSigner(key)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKeyType, blockType)
	}
}

func toSigner(key any) (crypto.Signer, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return k, nil
	case *ecdsa.PrivateKey:
		return k, nil
	case ed25519.PrivateKey:
		return k, nil
	case *ed25519.PrivateKey:
		return *k, nil
	case ed448.PrivateKey:
		return k, nil
	case *dsa.PrivateKey:
		return cms.NewDSASigner(k), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKeyType, key)
	}
}

// dsaPrivateKey is the OpenSSL "DSA PRIVATE KEY" structure.
type dsaPrivateKey struct {
	Version       int
	P, Q, G, Y, X *big.Int
}

func parseDSAPrivateKey(der []byte) (*dsa.PrivateKey, error) {
	var k dsaPrivateKey
	rest, err := asn1.Unmarshal(der, &k)
	if err != nil {
		return nil, err
	}
	if len(rest) > 0 {
		return nil, errors.New("trailing data after DSA private key")
	}
	return &dsa.PrivateKey{
		PublicKey: dsa.PublicKey{
			Parameters: dsa.Parameters{P: k.P, Q: k.Q, G: k.G},
			Y:          k.Y,
		},
		X: k.X,
	}, nil
}

// MarshalDSAPrivateKey encodes key in the OpenSSL "DSA PRIVATE KEY" form.
func MarshalDSAPrivateKey(key *dsa.PrivateKey) ([]byte, error) {
	return asn1.Marshal(dsaPrivateKey{
		P: key.P, Q: key.Q, G: key.G, Y: key.Y, X: key.X,
	})
}

type pkcs8 struct {
	Version    int
	Algorithm  pkix.AlgorithmIdentifier
	PrivateKey []byte
}

// parseEd448PKCS8 reads an Ed448 key (RFC 8410), which crypto/x509 does not
// support.
func parseEd448PKCS8(der []byte) (crypto.Signer, error) {
	var p pkcs8
	if _, err := asn1.Unmarshal(der, &p); err != nil {
		return nil, err
	}
	if !p.Algorithm.Algorithm.Equal(oidEd448) {
		return nil, ErrUnknownKeyType
	}
	var seed []byte
	if _, err := asn1.Unmarshal(p.PrivateKey, &seed); err != nil {
		return nil, err
	}
	if len(seed) != ed448.SeedSize {
		return nil, fmt.Errorf("ed448 seed has %d bytes", len(seed))
	}
	return ed448.NewKeyFromSeed(seed), nil
}

// MarshalEd448PKCS8 encodes key as an RFC 8410 PKCS #8 private key.
func MarshalEd448PKCS8(key ed448.PrivateKey) ([]byte, error) {
	seed, err := asn1.Marshal(key.Seed())
	if err != nil {
		return nil, err
	}
	return asn1.Marshal(pkcs8{
		Algorithm:  pkix.AlgorithmIdentifier{Algorithm: oidEd448},
		PrivateKey: seed,
	})
}

func isPEM(data []byte) bool {
	return bytes.Contains(data, []byte("-----BEGIN "))
}
