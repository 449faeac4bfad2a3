package data_grabber

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/zclconf/go-cty/cty"
)

var verbRegex = regexp.MustCompile(`%([-+ 0#]*)(\d*)(?:\.(\d+))?([diouxXeEfFgGs%])`)

// interpolate applies printf-style placeholders (%04d, %s, %%) in order.
func interpolate(template string, args []cty.Value) (string, error) {
	var sb strings.Builder
	next := 0
	last := 0
	for _, loc := range verbRegex.FindAllStringSubmatchIndex(template, -1) {
		sb.WriteString(template[last:loc[0]])
		last = loc[1]

		verb := template[loc[8]:loc[9]]
		if verb == "%" {
			sb.WriteString("%")
			continue
		}
		if next >= len(args) {
			return "", fmt.Errorf("template %q needs more than %d arguments", template, len(args))
		}
		spec := "%" + template[loc[2]:loc[3]] + template[loc[4]:loc[5]]
		if loc[6] >= 0 {
			spec += "." + template[loc[6]:loc[7]]
		}

		s, err := formatArg(spec, verb, args[next])
		if err != nil {
			return "", fmt.Errorf("template %q argument %d: %w", template, next+1, err)
		}
		sb.WriteString(s)
		next++
	}
	sb.WriteString(template[last:])
	if next != len(args) {
		return "", fmt.Errorf("template %q uses %d of %d arguments", template, next, len(args))
	}
	return sb.String(), nil
}

func formatArg(spec, verb string, v cty.Value) (string, error) {
	if v.IsNull() || !v.IsKnown() {
		return "", fmt.Errorf("value is null or unknown")
	}
	switch verb {
	case "s":
		return fmt.Sprintf(spec+"s", scalarString(v)), nil
	case "d", "i", "o", "x", "X", "u":
		n, err := asInt(v)
		if err != nil {
			return "", err
		}
		switch verb {
		case "i", "u":
			verb = "d"
		}
		return fmt.Sprintf(spec+verb, n), nil
	default:
		f, err := asFloat(v)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(spec+verb, f), nil
	}
}

func scalarString(v cty.Value) string {
	switch v.Type() {
	case cty.String:
		return v.AsString()
	case cty.Number:
		bf := v.AsBigFloat()
		if bf.IsInt() {
			return bf.Text('f', 0)
		}
		return bf.Text('g', -1)
	case cty.Bool:
		if v.True() {
			return "True"
		}
		return "False"
	default:
		return v.GoString()
	}
}

func asInt(v cty.Value) (int64, error) {
	switch v.Type() {
	case cty.Number:
		i, acc := v.AsBigFloat().Int64()
		if acc != big.Exact {
			return 0, fmt.Errorf("%s is not an integer", v.AsBigFloat().Text('g', -1))
		}
		return i, nil
	case cty.String:
		var n int64
		if _, err := fmt.Sscan(v.AsString(), &n); err != nil {
			return 0, fmt.Errorf("%q is not an integer", v.AsString())
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%s is not a number", v.Type().FriendlyName())
	}
}

func asFloat(v cty.Value) (float64, error) {
	if v.Type() != cty.Number {
		return 0, fmt.Errorf("%s is not a number", v.Type().FriendlyName())
	}
	f, _ := v.AsBigFloat().Float64()
	return f, nil
}
