package fingerprint

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospector/internal/model"
)

func TestCompute_Deterministic(t *testing.T) {
	rec := model.CandidateRecord{
		Name:    "Acme Bakery",
		Address: "12 Main St",
		Phone:   "555-0100",
	}

	fp1, err := Compute(rec)
	require.NoError(t, err)
	fp2, err := Compute(rec)
	require.NoError(t, err)

	assert.Equal(t, fp1, fp2)
	assert.Len(t, string(fp1), 64)
}

func TestCompute_NormalizationVariants(t *testing.T) {
	base := model.CandidateRecord{
		Name:    "Acme Bakery",
		Address: "12 Main St",
		Phone:   "555-010-0123",
	}
	want, err := Compute(base)
	require.NoError(t, err)

	variants := []model.CandidateRecord{
		{Name: "ACME   BAKERY", Address: "12 Main St.", Phone: "555-010-0123"},
		{Name: "Acme-Bakery", Address: "12  main st", Phone: "(555) 010 0123"},
		{Name: "acme bakery", Address: "12, Main St", Phone: "+1 555.010.0123"},
	}
	for _, v := range variants {
		got, err := Compute(v)
		require.NoError(t, err)
		assert.Equal(t, want, got, "variant %+v should collapse to the same fingerprint", v)
	}
}

func TestCompute_DistinctBusinesses(t *testing.T) {
	a, err := Compute(model.CandidateRecord{Name: "Acme Bakery", Address: "12 Main St"})
	require.NoError(t, err)
	b, err := Compute(model.CandidateRecord{Name: "Acme Bakery", Address: "99 Oak Ave"})
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestCompute_MissingPhoneFallsBackToNameAddress(t *testing.T) {
	noPhone := model.CandidateRecord{Name: "Acme Bakery", Address: "12 Main St"}
	fp1, err := Compute(noPhone)
	require.NoError(t, err)

	// Same record seen again without a phone maps to the same fingerprint.
	fp2, err := Compute(model.CandidateRecord{Name: "acme bakery", Address: "12 MAIN ST"})
	require.NoError(t, err)
	assert.Equal(t, fp1, fp2)

	// A phone participates in the digest when present.
	withPhone := noPhone
	withPhone.Phone = "555-0100"
	fp3, err := Compute(withPhone)
	require.NoError(t, err)
	assert.NotEqual(t, fp1, fp3)
}

func TestCompute_ProviderIDDoesNotParticipate(t *testing.T) {
	a, err := Compute(model.CandidateRecord{PlaceID: "places/aaa", Name: "Acme Bakery", Address: "12 Main St"})
	require.NoError(t, err)
	b, err := Compute(model.CandidateRecord{PlaceID: "places/bbb", Name: "Acme Bakery", Address: "12 Main St"})
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestCompute_EmptyIdentity(t *testing.T) {
	_, err := Compute(model.CandidateRecord{Phone: "555-0100"})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrInvalidRecord))
}

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"+1 (555) 010-0123": "5550100123",
		"555.010.0123":      "5550100123",
		"15550100123":       "5550100123",
		"":                  "",
		"+44 20 7946 0958":  "442079460958",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizePhone(in), "input %q", in)
	}
}
