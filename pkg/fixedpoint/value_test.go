package fixedpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewFromString(t *testing.T) {
	v, err := NewFromString("100.5")
	assert.NoError(t, err)
	assert.Equal(t, int64(1005000000), v.Int64())

	_, err = NewFromString("not a number")
	assert.Error(t, err)
}

func TestArithmetic(t *testing.T) {
	a := NewFromFloat(100.0)
	b := NewFromFloat(0.5)

	assert.Equal(t, NewFromFloat(100.5), a.Add(b))
	assert.Equal(t, NewFromFloat(99.5), a.Sub(b))
	assert.Equal(t, NewFromFloat(50.0), a.Mul(b))
	assert.Equal(t, NewFromFloat(200.0), a.Div(b))
}

func TestSignAndCompare(t *testing.T) {
	assert.Equal(t, 1, NewFromFloat(1.0).Sign())
	assert.Equal(t, -1, NewFromFloat(-1.0).Sign())
	assert.Equal(t, 0, Zero.Sign())

	assert.Equal(t, 1, NewFromFloat(2.0).Compare(One))
	assert.Equal(t, -1, Zero.Compare(One))
	assert.Equal(t, 0, One.Compare(One))
}

func TestClamp(t *testing.T) {
	lo := NewFromFloat(0.0)
	hi := NewFromFloat(10.0)

	assert.Equal(t, lo, Clamp(NewFromFloat(-5.0), lo, hi))
	assert.Equal(t, hi, Clamp(NewFromFloat(15.0), lo, hi))
	assert.Equal(t, NewFromFloat(3.0), Clamp(NewFromFloat(3.0), lo, hi))
}

func TestString(t *testing.T) {
	assert.Equal(t, "100.5", NewFromFloat(100.5).String())
	assert.Equal(t, "0.0000001", Value(1).String())
}
