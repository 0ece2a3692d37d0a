package census

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// NoReport is the police report's placeholder for an unknown municipality.
const NoReport = "NO REPORTA"

// NormalizeDepartment zero-pads a department code to 2 digits.
func NormalizeDepartment(code string) string {
	return pad(code, 2)
}

// NormalizeMunicipality zero-pads a municipality code to 3 digits.
func NormalizeMunicipality(code string) string {
	return pad(code, 3)
}

func pad(code string, width int) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	for len(code) < width {
		code = "0" + code
	}
	return code
}

// CombineCode joins department and municipality codes into the 5-digit
// DIVIPOLA municipality code, or "" when either part is missing.
func CombineCode(dept, mpio string) string {
	d, m := NormalizeDepartment(dept), NormalizeMunicipality(mpio)
	if d == "" || m == "" {
		return ""
	}
	return d + m
}

// FormatCode renders a numeric municipality code with zero-padding.
func FormatCode(code int64) string {
	return fmt.Sprintf("%05d", code)
}

// ParseCode parses a municipality code such as "05001".
func ParseCode(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, eris.New("census: empty code")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "census: parse code %q", s)
	}
	if n < 0 {
		return 0, eris.Errorf("census: negative code %q", s)
	}
	return n, nil
}

// SplitCode returns the department and municipality parts of a code.
func SplitCode(code int64) (dept, mpio int) {
	return int(code / 1000), int(code % 1000)
}

// JoinCode is the inverse of SplitCode.
func JoinCode(dept, mpio int) int64 {
	return int64(dept)*1000 + int64(mpio)
}

// FromDANEReport converts the 8-digit code used by police reports, which
// appends a 3-digit populated-centre suffix, to the municipality code.
func FromDANEReport(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, NoReport) {
		return 0, eris.Errorf("census: no municipality code in %q", s)
	}
	n, err := ParseCode(s)
	if err != nil {
		return 0, err
	}
	return n / 1000, nil
}
