package cms

import (
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"slices"

	"go.uber.org/zap"

	pkiasn1 "github.com/mdean75/cms-engine/internal/asn1"
)

// CounterSignTarget is a countersignature selection policy.
type CounterSignTarget int

const (
	// Tree countersigns every top-level signer.
	Tree CounterSignTarget = iota
	// Leafs countersigns every node without countersignatures.
	Leafs
	// Nodes countersigns explicit node indices.
	Nodes
	// Signers countersigns every node whose certificate matches an identity.
	Signers
)

// String returns the policy name.
func (t CounterSignTarget) String() string {
	switch t {
	case Tree:
		return "tree"
	case Leafs:
		return "leafs"
	case Nodes:
		return "nodes"
	case Signers:
		return "signers"
	default:
		return fmt.Sprintf("CounterSignTarget(%d)", int(t))
	}
}

// Selection chooses the nodes Countersign signs. Build one with TreeTargets,
// LeafTargets, NodeTargets, SignerTargets or SignerCertificateTargets.
type Selection struct {
	policy     CounterSignTarget
	indices    []int
	identities []string
	certs      []*x509.Certificate
}

// Policy returns the selection policy.
func (s Selection) Policy() CounterSignTarget { return s.policy }

// TreeTargets selects every top-level signer.
func TreeTargets() Selection { return Selection{policy: Tree} }

// LeafTargets selects every node that has no countersignatures.
func LeafTargets() Selection { return Selection{policy: Leafs} }

// NodeTargets selects nodes by index (see SignerNode). Duplicates collapse.
func NodeTargets(indices ...int) Selection {
	return Selection{policy: Nodes, indices: indices}
}

// SignerTargets selects nodes whose certificate subject DN or common name
// equals one of identities.
func SignerTargets(identities ...string) Selection {
	return Selection{policy: Signers, identities: identities}
}

// SignerCertificateTargets selects nodes signed with one of certs.
func SignerCertificateTargets(certs ...*x509.Certificate) Selection {
	return Selection{policy: Signers, certs: certs}
}

// resolve returns the selected node indices in ascending order.
func (s Selection) resolve(roots []*treeNode, certs []*x509.Certificate) ([]int, error) {
	flat := flattenNodes(roots)
	var out []int
	switch s.policy {
	case Tree:
		for _, r := range roots {
			out = append(out, r.index)
		}
	case Leafs:
		for _, n := range flat {
			if len(n.children) == 0 {
				out = append(out, n.index)
			}
		}
	case Nodes:
		if len(s.indices) == 0 {
			return nil, newError(CodeInvalidTarget, "no node indices given")
		}
		for _, idx := range s.indices {
			if idx < 0 || idx >= len(flat) {
				return nil, newError(CodeInvalidTarget,
					fmt.Sprintf("node index %d is out of range; the tree has %d nodes", idx, len(flat)))
			}
			out = append(out, idx)
		}
		slices.Sort(out)
		out = slices.Compact(out)
	case Signers:
		if len(s.identities) == 0 && len(s.certs) == 0 {
			return nil, newError(CodeInvalidTarget, "no signer identities given")
		}
		var public []*SignerNode
		for _, r := range roots {
			public = append(public, r.public(certs))
		}
		nodes := Flatten(public)
		out = matchIdentities(nodes, s.identities)
		out = append(out, matchCertificates(nodes, s.certs)...)
		slices.Sort(out)
		out = slices.Compact(out)
	default:
		return nil, newConfigError(fmt.Sprintf("unknown countersignature policy %d", int(s.policy)))
	}
	if len(out) == 0 {
		return nil, newError(CodeInvalidTarget, fmt.Sprintf("%s selection matched no signers", s.policy))
	}
	return out, nil
}

// Countersign adds a countersignature to every node chosen by sel. Each
// countersignature signs its target's signature value and is appended to the
// target's unsigned attributes as a new attribute. Nodes outside the
// selection keep their exact encoding. BER input is normalized to DER first,
// so that encoding is the DER form of the input.
//
// WithPrecalculatedDigest is rejected: the digested value is always the
// target signature.
func (e *Engine) Countersign(blob []byte, alg Algorithm, sel Selection, key KeyEntry, opts ...Option) ([]byte, error) {
	spec, err := alg.spec()
	if err != nil {
		return nil, err
	}
	cfg, err := newCallConfig(opts)
	if err != nil {
		return nil, err
	}
	if cfg.precalculatedName != "" {
		return nil, newConfigError("countersignatures cannot use a precalculated digest")
	}
	cert, chain, err := key.resolve(spec)
	if err != nil {
		return nil, err
	}
	c, err := parseContainer(blob)
	if err != nil {
		return nil, err
	}
	roots, err := c.signerTree()
	if err != nil {
		return nil, err
	}
	targets, err := sel.resolve(roots, c.certificates())
	if err != nil {
		return nil, err
	}

	selected := make(map[int]bool, len(targets))
	for _, t := range targets {
		selected[t] = true
	}
	countersign := func(n *treeNode) ([]byte, error) {
		return e.buildSignerInfo(signerRequest{
			spec:   spec,
			signer: key.Signer,
			cert:   cert,
			digest: spec.digest.sum(n.info.Signature),
			cfg:    cfg,
		})
	}

	infos := make([][]byte, 0, len(roots))
	for _, r := range roots {
		raw, _, err := rebuildNode(r, selected, countersign)
		if err != nil {
			return nil, err
		}
		infos = append(infos, raw)
	}
	if err := c.setSignerInfos(infos); err != nil {
		return nil, err
	}
	c.mergeCertificates(append(append([]*x509.Certificate(nil), chain...), cfg.extraCerts...)...)
	c.mergeCRLs(cfg.crls)

	out, err := c.marshal()
	if err != nil {
		return nil, err
	}
	e.logger.Debug("countersigned",
		zap.String("op", "countersign"),
		zap.Stringer("algorithm", alg),
		zap.Stringer("policy", sel.policy),
		zap.Ints("targets", targets),
		zap.Stringer("format", c.format),
	)
	return out, nil
}

// rebuildNode returns the encoding of n after countersigning every selected
// node in its subtree. It reports whether anything changed; unchanged
// subtrees return their original bytes.
func rebuildNode(n *treeNode, selected map[int]bool, countersign func(*treeNode) ([]byte, error)) ([]byte, bool, error) {
	members, err := pkiasn1.SetMembers(n.info.UnsignedAttrs)
	if err != nil {
		return nil, false, wrapError(CodeMalformedStructure, "parsing unsigned attributes", err)
	}

	changed := false
	next := 0
	attrs := make([][]byte, 0, len(members)+1)
	for _, m := range members {
		var a pkiasn1.Attribute
		if err := unmarshalExact(m.FullBytes, &a); err != nil {
			return nil, false, wrapError(CodeMalformedStructure, "parsing unsigned attribute", err)
		}
		if !a.Type.Equal(pkiasn1.OIDAttributeCounterSign) {
			attrs = append(attrs, m.FullBytes)
			continue
		}
		values, err := pkiasn1.SetMembers(a.Values)
		if err != nil {
			return nil, false, wrapError(CodeMalformedStructure, "parsing countersignature values", err)
		}
		rebuilt := make([][]byte, 0, len(values))
		attrChanged := false
		for range values {
			child := n.children[next]
			next++
			raw, ch, err := rebuildNode(child, selected, countersign)
			if err != nil {
				return nil, false, err
			}
			attrChanged = attrChanged || ch
			rebuilt = append(rebuilt, raw)
		}
		if !attrChanged {
			attrs = append(attrs, m.FullBytes)
			continue
		}
		encoded, err := encodeAttribute(a.Type, rebuilt)
		if err != nil {
			return nil, false, err
		}
		attrs = append(attrs, encoded)
		changed = true
	}

	if selected[n.index] {
		cs, err := countersign(n)
		if err != nil {
			return nil, false, err
		}
		encoded, err := encodeAttribute(pkiasn1.OIDAttributeCounterSign, [][]byte{cs})
		if err != nil {
			return nil, false, err
		}
		attrs = append(attrs, encoded)
		changed = true
	}

	if !changed {
		return n.raw, false, nil
	}
	raw, err := withUnsignedAttrs(n.raw, attrs)
	if err != nil {
		return nil, false, wrapError(CodeEncoding, "re-encoding SignerInfo", err)
	}
	return raw, true, nil
}

// encodeAttribute encodes an Attribute whose values keep the given order.
func encodeAttribute(oid asn1.ObjectIdentifier, values [][]byte) ([]byte, error) {
	set, err := pkiasn1.EncodeOrderedSet(asn1.ClassUniversal, asn1.TagSet, values)
	if err != nil {
		return nil, wrapError(CodeEncoding, "encoding attribute values", err)
	}
	out, err := asn1.Marshal(pkiasn1.Attribute{Type: oid, Values: asn1.RawValue{FullBytes: set}})
	if err != nil {
		return nil, wrapError(CodeEncoding, "encoding attribute", err)
	}
	return out, nil
}
