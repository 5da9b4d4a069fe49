package currency

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRupiahToNovoinRoundsUp(t *testing.T) {
	rules, err := NewRules(DefaultRate)
	require.NoError(t, err)

	cases := []struct {
		in   Rupiah
		want Novoin
	}{
		{0, 0},
		{1, 1},
		{999, 1},
		{1000, 1},
		{1001, 2},
		{25000, 25},
		{25001, 26},
	}
	for _, tc := range cases {
		got, err := rules.RupiahToNovoin(tc.in)
		require.NoError(t, err)
		require.Equalf(t, tc.want, got, "rupiah %d", tc.in)
	}
}

func TestNovoinToRupiahExact(t *testing.T) {
	rules, err := NewRules(DefaultRate)
	require.NoError(t, err)

	got, err := rules.NovoinToRupiah(1)
	require.NoError(t, err)
	require.Equal(t, Rupiah(1000), got)

	got, err = rules.NovoinToRupiah(27)
	require.NoError(t, err)
	require.Equal(t, Rupiah(27000), got)
}

func TestConversionRejectsNegative(t *testing.T) {
	rules, err := NewRules(DefaultRate)
	require.NoError(t, err)

	_, err = rules.RupiahToNovoin(-1)
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = rules.NovoinToRupiah(-1)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestNovoinToRupiahOverflow(t *testing.T) {
	rules, err := NewRules(DefaultRate)
	require.NoError(t, err)

	_, err = rules.NovoinToRupiah(Novoin(1 << 62))
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestNewRulesRejectsNonPositiveRate(t *testing.T) {
	_, err := NewRules(0)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestRoundTripCeilingBound(t *testing.T) {
	for _, rate := range []Rupiah{1, 7, 1000, 1500} {
		rules, err := NewRules(rate)
		require.NoError(t, err)
		for r := Rupiah(0); r <= 5*rate+3; r++ {
			n, err := rules.RupiahToNovoin(r)
			require.NoError(t, err)
			back, err := rules.NovoinToRupiah(n)
			require.NoError(t, err)
			require.GreaterOrEqualf(t, back, r, "rate %d rupiah %d", rate, r)
			require.Lessf(t, back, r+rate, "rate %d rupiah %d", rate, r)
		}
	}
}

func TestFormatHelpers(t *testing.T) {
	require.Equal(t, "Rp25.000", FormatRupiah(25000))
	require.Equal(t, "1.250 Novoin", FormatNovoin(1250))
	require.Equal(t, "5 Novoin", FormatNovoin(5))
}
