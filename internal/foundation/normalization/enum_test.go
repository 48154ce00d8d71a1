package normalization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backoff int

const (
	backoffFixed backoff = iota
	backoffLinear
	backoffExponential
)

func newBackoffNormalizer() *EnumNormalizer[backoff] {
	return NewEnumNormalizer("backoff", map[string]backoff{
		"fixed":       backoffFixed,
		"Linear":      backoffLinear,
		"exponential": backoffExponential,
		"exp":         backoffExponential,
	}, backoffFixed)
}

func TestNormalize(t *testing.T) {
	n := newBackoffNormalizer()
	assert.Equal(t, backoffExponential, n.Normalize("  Exponential "))
	assert.Equal(t, backoffExponential, n.Normalize("EXP"))
	assert.Equal(t, backoffLinear, n.Normalize("linear"))
	assert.Equal(t, backoffFixed, n.Normalize("quadratic"))
	assert.Equal(t, backoffFixed, n.Normalize(""))
}

func TestNormalizeWithValidation(t *testing.T) {
	n := newBackoffNormalizer()

	v, err := n.NormalizeWithValidation("linear")
	require.NoError(t, err)
	assert.Equal(t, backoffLinear, v)

	_, err = n.NormalizeWithValidation("quadratic")
	require.Error(t, err)
	assert.Equal(t, `invalid backoff "quadratic", valid options: exp, exponential, fixed, linear`, err.Error())
}

func TestValidValuesIsACopy(t *testing.T) {
	n := newBackoffNormalizer()
	keys := n.ValidValues()
	keys[0] = "mutated"
	assert.Equal(t, []string{"exp", "exponential", "fixed", "linear"}, n.ValidValues())
}
