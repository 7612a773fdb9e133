package typemap

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/cockroachdb/apd/v3"
)

// numericModifier matches a NUMERIC(p,s)/DECIMAL(p,s) type string's
// precision and scale, used to round a source value to the destination
// column's declared scale without losing precision to a float64 hop.
var numericModifier = regexp.MustCompile(`(?i)^(?:numeric|decimal)\((\d+)\s*,\s*(\d+)\)$`)

// PreservePrecision re-renders a source numeric value as a fixed-point
// decimal string sized for destType, using apd instead of float64 so a
// value like "19.99" read from a source NUMERIC column never picks up
// binary-floating-point drift on the way to the destination (spec
// §4.1's numeric-precision-preserved property).
//
// value may be a string, an int64/float64 (from a driver that already
// decoded it), or an *apd.Decimal. Any other type is returned unchanged
// since it isn't numeric.
func PreservePrecision(value any, destType string) (any, error) {
	if value == nil {
		return nil, nil
	}

	dec, err := toDecimal(value)
	if err != nil {
		// Not a decimal-representable value (e.g. a string column) —
		// pass it through untouched rather than fail the whole batch.
		return value, nil //nolint:nilerr
	}

	if m := numericModifier.FindStringSubmatch(destType); m != nil {
		scale, _ := strconv.Atoi(m[2])
		var rounded apd.Decimal
		ctx := apd.BaseContext.WithPrecision(76)
		if _, err := ctx.Quantize(&rounded, dec, -int32(scale)); err != nil {
			return nil, fmt.Errorf("quantize numeric value to scale %d: %w", scale, err)
		}
		return rounded.String(), nil
	}

	return dec.String(), nil
}

func toDecimal(value any) (*apd.Decimal, error) {
	switch v := value.(type) {
	case *apd.Decimal:
		return v, nil
	case apd.Decimal:
		return &v, nil
	case string:
		d, _, err := apd.BaseContext.WithPrecision(76).NewFromString(v)
		return d, err
	case float64:
		// Route floats through their shortest decimal string instead of
		// apd's binary-float constructor, which would bake in the same
		// drift this package exists to avoid.
		d, _, err := apd.BaseContext.WithPrecision(76).NewFromString(strconv.FormatFloat(v, 'f', -1, 64))
		return d, err
	case float32:
		d, _, err := apd.BaseContext.WithPrecision(76).NewFromString(strconv.FormatFloat(float64(v), 'f', -1, 32))
		return d, err
	case int64:
		return apd.New(v, 0), nil
	case int:
		return apd.New(int64(v), 0), nil
	default:
		return nil, fmt.Errorf("value of type %T is not numeric", value)
	}
}
