package census

import (
	"math"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/rotisserie/eris"
)

// Columns added by Indicators.
const (
	CasesColumn           = "DomesticViolenceCases"
	RateColumn            = "DVCper1000iH"
	AdultPopulation       = "AdultPopulation"
	KidPopulation         = "KidPopulation"
	UptoPrimary           = "UptoPrimary"
	AdultinPrimary        = "AdultinPrimary"
	PercentAdultinPrimary = "PercentageAdultinPrimary"
	PercentLSL            = "PercentageLSL"
	PercentHWES           = "PercentageHWES"
	PercentHWWS           = "PercentageHWWS"
	WomenperMen           = "WomenperMen"
)

// MGN census attributes read by Indicators.
const (
	fieldDwellings = "STVIVIENDA"
	fieldMen       = "STP32_1_SE"
	fieldWomen     = "STP32_2_SE"
	fieldNoSchool  = "STP51_13_E"
	fieldPrimary   = "STP51_PRIM"
	fieldStratum1  = "STP19_EE_1"
	fieldNoPower   = "STP19_ES_2"
	fieldNoWater   = "STP19_ACU2"
)

var (
	adultAgeFields = []string{"STP34_3_ED", "STP34_4_ED", "STP34_5_ED", "STP34_6_ED", "STP34_7_ED", "STP34_8_ED", "STP34_9_ED"}
	kidAgeFields   = []string{"STP34_1_ED", "STP34_2_ED"}
)

// Indicators appends the derived municipal indicators to df, which must
// hold the MGN census attributes and the DomesticViolenceCases column.
// Ratios with a zero or missing denominator are NaN.
func Indicators(df dataframe.DataFrame) (dataframe.DataFrame, error) {
	get := func(name string) ([]float64, error) {
		col := df.Col(name)
		if col.Err != nil {
			return nil, eris.Wrapf(col.Err, "census: indicator input %q", name)
		}
		return col.Float(), nil
	}
	sum := func(names []string) ([]float64, error) {
		out := make([]float64, df.Nrow())
		for _, n := range names {
			v, err := get(n)
			if err != nil {
				return nil, err
			}
			for i := range out {
				out[i] += v[i]
			}
		}
		return out, nil
	}

	cases, err := get(CasesColumn)
	if err != nil {
		return df, err
	}
	persons, err := get(PersonsField)
	if err != nil {
		return df, err
	}
	dwellings, err := get(fieldDwellings)
	if err != nil {
		return df, err
	}
	adults, err := sum(adultAgeFields)
	if err != nil {
		return df, err
	}
	kids, err := sum(kidAgeFields)
	if err != nil {
		return df, err
	}
	upto, err := sum([]string{fieldNoSchool, fieldPrimary})
	if err != nil {
		return df, err
	}
	stratum1, err := get(fieldStratum1)
	if err != nil {
		return df, err
	}
	noPower, err := get(fieldNoPower)
	if err != nil {
		return df, err
	}
	noWater, err := get(fieldNoWater)
	if err != nil {
		return df, err
	}
	men, err := get(fieldMen)
	if err != nil {
		return df, err
	}
	women, err := get(fieldWomen)
	if err != nil {
		return df, err
	}

	adultInPrimary := make([]float64, len(upto))
	for i := range upto {
		adultInPrimary[i] = upto[i] - kids[i]
	}

	derived := []series.Series{
		series.New(ratio(cases, persons, 1000), series.Float, RateColumn),
		series.New(adults, series.Float, AdultPopulation),
		series.New(kids, series.Float, KidPopulation),
		series.New(upto, series.Float, UptoPrimary),
		series.New(adultInPrimary, series.Float, AdultinPrimary),
		series.New(ratio(adultInPrimary, adults, 100), series.Float, PercentAdultinPrimary),
		series.New(ratio(stratum1, dwellings, 100), series.Float, PercentLSL),
		series.New(ratio(noPower, dwellings, 100), series.Float, PercentHWES),
		series.New(ratio(noWater, dwellings, 100), series.Float, PercentHWWS),
		series.New(ratio(women, men, 1), series.Float, WomenperMen),
	}
	for _, s := range derived {
		df = df.Mutate(s)
		if df.Err != nil {
			return df, eris.Wrapf(df.Err, "census: add %s", s.Name)
		}
	}
	return df, nil
}

func ratio(num, den []float64, scale float64) []float64 {
	out := make([]float64, len(num))
	for i := range num {
		if den[i] == 0 || math.IsNaN(den[i]) || math.IsNaN(num[i]) {
			out[i] = math.NaN()
			continue
		}
		out[i] = num[i] / den[i] * scale
	}
	return out
}
