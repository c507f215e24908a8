package ir

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSpec(version int64, value int64) BackendSpec {
	return BackendSpec{
		Name:    "UpgradeableV1",
		Version: version,
		Operations: []OperationSpec{
			{Signature: "getUint()", Returns: "uint256", Value: IRInt(value)},
		},
	}
}

func TestBackendHandle_Deterministic(t *testing.T) {
	h1, err := BackendHandle(sampleSpec(1, 1))
	require.NoError(t, err)
	h2, err := BackendHandle(sampleSpec(1, 1))
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.True(t, strings.HasPrefix(string(h1), "0x"))
	assert.Len(t, string(h1), 42)
}

func TestBackendHandle_ContentSensitive(t *testing.T) {
	v1 := MustBackendHandle(sampleSpec(1, 1))
	v2 := MustBackendHandle(sampleSpec(2, 2))
	otherValue := MustBackendHandle(sampleSpec(1, 7))

	assert.NotEqual(t, v1, v2)
	assert.NotEqual(t, v1, otherValue)
}

func TestBackendHandle_PurposeExcluded(t *testing.T) {
	a := sampleSpec(1, 1)
	b := sampleSpec(1, 1)
	b.Purpose = "documentation only"

	assert.Equal(t, MustBackendHandle(a), MustBackendHandle(b))
}

func TestBackendHandle_MissingValue(t *testing.T) {
	spec := sampleSpec(1, 1)
	spec.Operations[0].Value = nil

	_, err := BackendHandle(spec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no value")
}

func TestVersionChangeID_Deterministic(t *testing.T) {
	change := VersionChange{
		Relay:           "relay-1",
		Kind:            ChangeUpgrade,
		Version:         2,
		Backend:         "0x02",
		PreviousVersion: 1,
		PreviousBackend: "0x01",
		Seq:             3,
	}

	id1, err := VersionChangeID(change)
	require.NoError(t, err)
	id2, err := VersionChangeID(change)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.Len(t, id1, 64)

	change.Kind = ChangeRollback
	id3, err := VersionChangeID(change)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3, "kind is part of identity")
}

func TestSizeRegistrationID_SeqSensitive(t *testing.T) {
	reg := SizeRegistration{
		Relay: "relay-1",
		Entry: SizeEntry{Signature: "getUint()", Selector: Selector{0x00, 0x0a, 0x0b, 0x0c}, Size: 32},
		Seq:   1,
	}
	id1, err := SizeRegistrationID(reg)
	require.NoError(t, err)

	reg.Seq = 2
	id2, err := SizeRegistrationID(reg)
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
}

func TestSelectorRoundTrip(t *testing.T) {
	sel := Selector{0xde, 0xad, 0xbe, 0xef}
	assert.Equal(t, "0xdeadbeef", sel.String())

	parsed, err := ParseSelector("0xdeadbeef")
	require.NoError(t, err)
	assert.Equal(t, sel, parsed)

	_, err = ParseSelector("deadbeef")
	require.Error(t, err)
	_, err = ParseSelector("0xzzzzzzzz")
	require.Error(t, err)
}
