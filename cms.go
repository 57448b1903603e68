// Package cms creates and extends CMS (RFC 5652) and PKCS#7 signature
// containers.
//
// An Engine signs content into a new SignedData (Sign), adds parallel signers
// to an existing container (Cosign, CosignBlob), adds countersignatures to
// selected signers of the signer tree (Countersign), and produces
// SignedAndEnvelopedData for a set of recipients (SignAndEnvelope). Existing
// signers are never re-encoded: bytes of untouched SignerInfos are carried
// over verbatim so their signatures stay valid.
//
// Inputs may be BER; outputs are DER. Verify checks every signature in the
// tree, countersignatures included.
//
//	e := cms.NewEngine(cms.WithLogger(logger))
//	sig, err := e.Sign(content, cms.SHA256WithRSA, key, cms.WithMode(cms.Explicit))
//	if err != nil {
//		return err
//	}
//	sig, err = e.Countersign(sig, cms.SHA256WithECDSA, cms.LeafTargets(), notary)
package cms
