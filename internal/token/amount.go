package token

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	payerr "github.com/tipforge/payengine/internal/errors"
)

// ParseAmount converts a user-facing decimal amount ("1.25") into raw units
// at the token's precision. It rejects zero, negative, malformed, and
// over-precise inputs; the result always satisfies raw > 0.
func ParseAmount(display string, decimals uint8) (uint64, error) {
	s := strings.TrimSpace(display)
	if s == "" || strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return 0, payerr.Validation("amount", fmt.Sprintf("malformed amount %q", display))
	}

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > int(decimals) {
		return 0, payerr.Validation("amount",
			fmt.Sprintf("amount %q exceeds %d decimal places", display, decimals))
	}

	// Right-pad the fractional part to full precision and parse the two
	// halves as integers.
	frac += strings.Repeat("0", int(decimals)-len(frac))

	w, err := strconv.ParseUint(whole, 10, 64)
	if err != nil {
		return 0, payerr.Validation("amount", fmt.Sprintf("malformed amount %q", display))
	}
	var f uint64
	if frac != "" {
		f, err = strconv.ParseUint(frac, 10, 64)
		if err != nil {
			return 0, payerr.Validation("amount", fmt.Sprintf("malformed amount %q", display))
		}
	}

	scale := pow10(decimals)
	if scale != 0 && w > math.MaxUint64/scale {
		return 0, payerr.Validation("amount", fmt.Sprintf("amount %q overflows", display))
	}
	raw := w * scale
	if raw > math.MaxUint64-f {
		return 0, payerr.Validation("amount", fmt.Sprintf("amount %q overflows", display))
	}
	raw += f

	if raw == 0 {
		return 0, payerr.Validation("amount", "amount must be positive")
	}
	return raw, nil
}

// FormatAmount renders raw units as a trimmed decimal string at the token's
// precision.
func FormatAmount(raw uint64, decimals uint8) string {
	if decimals == 0 {
		return strconv.FormatUint(raw, 10)
	}
	scale := pow10(decimals)
	whole := raw / scale
	frac := raw % scale
	if frac == 0 {
		return strconv.FormatUint(whole, 10)
	}
	fs := fmt.Sprintf("%0*d", decimals, frac)
	fs = strings.TrimRight(fs, "0")
	return strconv.FormatUint(whole, 10) + "." + fs
}

func pow10(n uint8) uint64 {
	out := uint64(1)
	for i := uint8(0); i < n; i++ {
		out *= 10
	}
	return out
}
