package offer

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/Dan-Hightower/hirebot/internal/domain/failure"
)

var printer = message.NewPrinter(language.English)

var (
	percentRe = regexp.MustCompile(`^\d+(\.\d+)?$`)
	salaryRe  = regexp.MustCompile(`^\d+(\.\d{1,2})?$`)
)

// FormatInt renders n with English thousands separators, e.g. 66,000.
func FormatInt(n int64) string {
	return printer.Sprintf("%d", n)
}

// NormalizeEquity returns the percentage exactly as written with a trailing
// "%". Digits are never rounded or padded.
func NormalizeEquity(raw string) (string, error) {
	const op = "offer.normalize_equity"
	s := strings.TrimSpace(raw)
	s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	if !percentRe.MatchString(s) {
		return "", failure.Newf(op, failure.ErrParse, "equity %q is not a percentage", raw)
	}
	v, _ := new(big.Rat).SetString(s)
	if v.Cmp(big.NewRat(100, 1)) > 0 {
		return "", failure.Newf(op, failure.ErrParse, "equity %q exceeds 100%%", raw)
	}
	return s + "%", nil
}

// Shares derives the share count for an equity percentage against total,
// rounding half up with exact rational arithmetic.
func Shares(equity string, total int64) (int64, error) {
	norm, err := NormalizeEquity(equity)
	if err != nil {
		return 0, err
	}
	p, _ := new(big.Rat).SetString(strings.TrimSuffix(norm, "%"))
	v := new(big.Rat).Mul(p, big.NewRat(total, 100))

	// floor((2*num + den) / (2*den)) is round-half-up for v >= 0.
	num := new(big.Int).Mul(v.Num(), big.NewInt(2))
	num.Add(num, v.Denom())
	den := new(big.Int).Mul(v.Denom(), big.NewInt(2))
	return new(big.Int).Quo(num, den).Int64(), nil
}

// NormalizeSalary renders a salary as "$130,000". It accepts bare numbers,
// thousands separators, a leading "$" and a trailing "k".
func NormalizeSalary(raw string) (string, error) {
	const op = "offer.normalize_salary"
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	mult := int64(1)
	if strings.HasSuffix(s, "k") {
		mult = 1000
		s = strings.TrimSuffix(s, "k")
	}
	if !salaryRe.MatchString(s) {
		return "", failure.Newf(op, failure.ErrParse, "salary %q is not an amount", raw)
	}
	v, _ := new(big.Rat).SetString(s)
	v.Mul(v, big.NewRat(mult, 1))
	if v.Sign() == 0 {
		return "", failure.Newf(op, failure.ErrParse, "salary %q is zero", raw)
	}
	if v.IsInt() {
		return "$" + FormatInt(v.Num().Int64()), nil
	}
	cents := new(big.Rat).Mul(v, big.NewRat(100, 1))
	c := new(big.Int).Quo(cents.Num(), cents.Denom()).Int64()
	return "$" + FormatInt(c/100) + fmt.Sprintf(".%02d", c%100), nil
}

// CleanRole strips commas and surrounding whitespace from a role title.
func CleanRole(raw string) string {
	s := strings.ReplaceAll(raw, ",", "")
	return strings.Join(strings.Fields(s), " ")
}
