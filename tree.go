package cms

import (
	"bytes"
	"crypto/x509"
	"time"

	pkiasn1 "github.com/mdean75/cms-engine/internal/asn1"
)

// SignerNode is one signer in the signer hierarchy of a container. Top-level
// signers are roots; countersignatures are children of the signer whose
// signature they cover.
//
// Index is the node's position in a depth-first, parent-before-children walk
// over the top-level signers in wire order. Children appear in unsigned
// attribute order and, within one countersignature attribute, in value order.
// Indices are stable across parses of the same bytes and are the addresses
// accepted by NodeTargets.
type SignerNode struct {
	Index int
	// Certificate is the embedded certificate matching the signer identifier,
	// or nil when the certificate is not embedded.
	Certificate *x509.Certificate
	// Subject is the certificate subject DN, empty when Certificate is nil.
	Subject string
	// SigningTime is the signing-time signed attribute, zero when absent.
	SigningTime        time.Time
	DigestAlgorithm    string
	SignatureAlgorithm string
	Signature          []byte
	Children           []*SignerNode
}

// IsLeaf reports whether the node carries no countersignatures.
func (n *SignerNode) IsLeaf() bool {
	return len(n.Children) == 0
}

// treeNode is the internal tree used by the composers. It keeps the raw
// SignerInfo TLV so untouched nodes are re-emitted byte for byte.
type treeNode struct {
	index    int
	raw      []byte
	info     pkiasn1.SignerInfo
	children []*treeNode
}

// buildNodes parses a sequence of SignerInfo TLVs and their nested
// countersignatures, numbering nodes from *next in pre-order.
func buildNodes(infos [][]byte, next *int) ([]*treeNode, error) {
	nodes := make([]*treeNode, 0, len(infos))
	for _, raw := range infos {
		n := &treeNode{index: *next, raw: raw}
		*next++
		if err := unmarshalExact(raw, &n.info); err != nil {
			return nil, wrapError(CodeMalformedStructure, "parsing SignerInfo", err)
		}
		children, err := counterSignatureValues(n.info)
		if err != nil {
			return nil, err
		}
		if n.children, err = buildNodes(children, next); err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// counterSignatureValues returns the countersignature SignerInfo TLVs of si
// in attribute order, then value order.
func counterSignatureValues(si pkiasn1.SignerInfo) ([][]byte, error) {
	attrs, err := parseAttributeSet(si.UnsignedAttrs)
	if err != nil {
		return nil, wrapError(CodeMalformedStructure, "parsing unsigned attributes", err)
	}
	var out [][]byte
	for _, a := range attrs {
		if !a.Type.Equal(pkiasn1.OIDAttributeCounterSign) {
			continue
		}
		values, err := pkiasn1.SetMembers(a.Values)
		if err != nil {
			return nil, wrapError(CodeMalformedStructure, "parsing countersignature values", err)
		}
		for _, v := range values {
			out = append(out, v.FullBytes)
		}
	}
	return out, nil
}

// signerTree parses the signer hierarchy of c.
func (c *container) signerTree() ([]*treeNode, error) {
	infos, err := c.signerInfos()
	if err != nil {
		return nil, err
	}
	next := 0
	return buildNodes(infos, &next)
}

// flattenNodes returns the nodes in index order.
func flattenNodes(roots []*treeNode) []*treeNode {
	var out []*treeNode
	var walk func([]*treeNode)
	walk = func(nodes []*treeNode) {
		for _, n := range nodes {
			out = append(out, n)
			walk(n.children)
		}
	}
	walk(roots)
	return out
}

func (n *treeNode) public(certs []*x509.Certificate) *SignerNode {
	out := &SignerNode{
		Index:              n.index,
		Certificate:        findCertificate(n.info.SID, certs),
		SigningTime:        signingTimeOf(&n.info),
		DigestAlgorithm:    digestName(n.info.DigestAlgorithm.Algorithm),
		SignatureAlgorithm: signatureName(n.info.SignatureAlgorithm, n.info.DigestAlgorithm.Algorithm),
		Signature:          n.info.Signature,
	}
	if out.Certificate != nil {
		out.Subject = out.Certificate.Subject.String()
	}
	for _, child := range n.children {
		out.Children = append(out.Children, child.public(certs))
	}
	return out
}

// BuildTree parses blob and returns its top-level signers with their
// countersignatures nested below them.
func BuildTree(blob []byte) ([]*SignerNode, error) {
	c, err := parseContainer(blob)
	if err != nil {
		return nil, err
	}
	roots, err := c.signerTree()
	if err != nil {
		return nil, err
	}
	certs := c.certificates()
	out := make([]*SignerNode, 0, len(roots))
	for _, r := range roots {
		out = append(out, r.public(certs))
	}
	return out, nil
}

// Flatten returns every node of the tree in index order.
func Flatten(roots []*SignerNode) []*SignerNode {
	var out []*SignerNode
	var walk func([]*SignerNode)
	walk = func(nodes []*SignerNode) {
		for _, n := range nodes {
			out = append(out, n)
			walk(n.Children)
		}
	}
	walk(roots)
	return out
}

// ResolveSignerIndices returns the sorted indices of every node, at any
// depth, whose certificate matches one of identities. An identity matches the
// subject DN string or the subject common name. Unknown identities are not an
// error; the result is then empty.
func ResolveSignerIndices(blob []byte, identities ...string) ([]int, error) {
	roots, err := BuildTree(blob)
	if err != nil {
		return nil, err
	}
	return matchIdentities(Flatten(roots), identities), nil
}

// ResolveSignerCertificates returns the sorted indices of every node signed
// with one of certs, compared by DER.
func ResolveSignerCertificates(blob []byte, certs ...*x509.Certificate) ([]int, error) {
	roots, err := BuildTree(blob)
	if err != nil {
		return nil, err
	}
	return matchCertificates(Flatten(roots), certs), nil
}

func matchIdentities(nodes []*SignerNode, identities []string) []int {
	out := []int{}
	for _, n := range nodes {
		if n.Certificate == nil {
			continue
		}
		for _, id := range identities {
			if id != "" && (id == n.Subject || id == n.Certificate.Subject.CommonName) {
				out = append(out, n.Index)
				break
			}
		}
	}
	return out
}

func matchCertificates(nodes []*SignerNode, certs []*x509.Certificate) []int {
	out := []int{}
	for _, n := range nodes {
		if n.Certificate == nil {
			continue
		}
		for _, c := range certs {
			if c != nil && bytes.Equal(c.Raw, n.Certificate.Raw) {
				out = append(out, n.Index)
				break
			}
		}
	}
	return out
}
