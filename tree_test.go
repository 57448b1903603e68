package cms

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTree_Flatten(t *testing.T) {
	blob := twoSigners(t)
	out, err := testEngine(t).Countersign(blob, SHA256WithRSA, TreeTargets(), rsaIdentity(t, "Carol"))
	require.NoError(t, err)

	roots, err := BuildTree(out)
	require.NoError(t, err)
	require.Len(t, roots, 2)
	assert.False(t, roots[0].IsLeaf())

	flat := Flatten(roots)
	require.Len(t, flat, 4)
	for i, n := range flat {
		assert.Equal(t, i, n.Index)
	}
	assert.Equal(t, "Carol", flat[1].Certificate.Subject.CommonName)
	assert.Equal(t, roots[1], flat[2])
	assert.True(t, flat[3].IsLeaf())
}

func TestBuildTree_StableIndices(t *testing.T) {
	blob, err := testEngine(t).Countersign(twoSigners(t), SHA256WithRSA, TreeTargets(), rsaIdentity(t, "Carol"))
	require.NoError(t, err)
	blob, err = testEngine(t).Countersign(blob, SHA256WithRSA, LeafTargets(), rsaIdentity(t, "Dave"))
	require.NoError(t, err)

	type addressed struct {
		Index     int
		Subject   string
		Signature []byte
	}
	addresses := func() []addressed {
		roots, err := BuildTree(blob)
		require.NoError(t, err)
		var out []addressed
		for _, n := range Flatten(roots) {
			out = append(out, addressed{n.Index, n.Subject, n.Signature})
		}
		return out
	}

	first := addresses()
	require.Len(t, first, 6)
	if diff := cmp.Diff(first, addresses()); diff != "" {
		t.Errorf("node addresses changed between parses (-first +second):\n%s", diff)
	}
}

func TestBuildTree_MissingCertificate(t *testing.T) {
	alice := rsaIdentity(t, "Alice")
	out, err := testEngine(t).Sign([]byte("x"), SHA256WithRSA, alice)
	require.NoError(t, err)

	c := mustParse(t, out)
	c.signed.Certificates = nil
	stripped, err := c.marshal()
	require.NoError(t, err)

	roots, err := BuildTree(stripped)
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Nil(t, roots[0].Certificate)
	assert.Empty(t, roots[0].Subject)
	assert.Equal(t, "SHA256withRSA", roots[0].SignatureAlgorithm)

	err = Verify(stripped, nil, WithNoChainValidation())
	require.ErrorIs(t, err, ErrMissingCertificate)
}

func TestBuildTree_Errors(t *testing.T) {
	_, err := BuildTree(nil)
	require.ErrorIs(t, err, ErrMalformedStructure)

	_, err = BuildTree([]byte("plain text"))
	require.ErrorIs(t, err, ErrMalformedStructure)
}

func TestResolveSignerIndices(t *testing.T) {
	blob := twoSigners(t)
	out, err := testEngine(t).Countersign(blob, SHA256WithRSA, TreeTargets(), rsaIdentity(t, "Carol"))
	require.NoError(t, err)

	tests := []struct {
		name       string
		identities []string
		want       []int
	}{
		{"common name", []string{"Carol"}, []int{1, 3}},
		{"subject DN", []string{"CN=Bob,O=Test Org"}, []int{2}},
		{"several", []string{"Alice", "Bob"}, []int{0, 2}},
		{"unknown", []string{"Mallory"}, []int{}},
		{"empty identity", []string{""}, []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveSignerIndices(out, tt.identities...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err = ResolveSignerIndices([]byte("junk"), "Alice")
	require.Error(t, err)
}

func TestResolveSignerCertificates(t *testing.T) {
	blob := twoSigners(t)
	out, err := testEngine(t).Countersign(blob, SHA256WithRSA, LeafTargets(), rsaIdentity(t, "Alice"))
	require.NoError(t, err)

	got, err := ResolveSignerCertificates(out, rsaIdentity(t, "Alice").Certificate)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 3}, got)

	got, err = ResolveSignerCertificates(out, nil, rsaIdentity(t, "Mallory").Certificate)
	require.NoError(t, err)
	assert.Empty(t, got)
}
