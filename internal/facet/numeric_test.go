package facet

import (
	"math"
	"testing"

	ferrors "github.com/facetd/facetd/internal/errors"
	"github.com/facetd/facetd/pkg/types"
)

func TestIntegerOps_DivideFloors(t *testing.T) {
	ops := IntegerOps{}
	cases := []struct {
		v, count, want int64
	}{
		{8, 4, 2},
		{7, 2, 3},
		{-7, 2, -4},
		{7, -2, -4},
		{-8, 4, -2},
		{0, 3, 0},
	}
	for _, tc := range cases {
		if got := ops.Divide(tc.v, tc.count); got != tc.want {
			t.Errorf("Divide(%d, %d) = %d, want %d", tc.v, tc.count, got, tc.want)
		}
	}
}

func TestIntegerOps_FromNumber(t *testing.T) {
	ops := IntegerOps{}

	v, err := ops.FromNumber(types.Float(2.9))
	if err != nil || v != 2 {
		t.Fatalf("expected 2, got %d (%v)", v, err)
	}
	v, err = ops.FromNumber(types.Float(-2.9))
	if err != nil || v != -2 {
		t.Fatalf("expected -2, got %d (%v)", v, err)
	}
	if _, err := ops.FromNumber(types.Float(math.NaN())); !ferrors.IsDataError(err) {
		t.Fatalf("expected data error for NaN, got %v", err)
	}
	if _, err := ops.FromNumber(types.Float(1e300)); !ferrors.IsDataError(err) {
		t.Fatalf("expected data error for out of range value, got %v", err)
	}
}

func TestFloatingOps_FromNumber(t *testing.T) {
	ops := FloatingOps{}
	v, err := ops.FromNumber(types.Int(3))
	if err != nil || v != 3.0 {
		t.Fatalf("expected 3.0, got %v (%v)", v, err)
	}
	if _, err := ops.FromNumber(types.Float(math.Inf(1))); !ferrors.IsDataError(err) {
		t.Fatalf("expected data error for +Inf, got %v", err)
	}
}

func TestOps_Parse(t *testing.T) {
	if v, err := (IntegerOps{}).Parse(" 42 "); err != nil || v != 42 {
		t.Fatalf("expected 42, got %d (%v)", v, err)
	}
	if _, err := (IntegerOps{}).Parse("4.2"); ferrors.GetCode(err) != ferrors.CodeTypeMismatch {
		t.Fatalf("expected type mismatch, got %v", err)
	}
	if v, err := (FloatingOps{}).Parse("4.5"); err != nil || v != 4.5 {
		t.Fatalf("expected 4.5, got %v (%v)", v, err)
	}
}

func TestOpsFor(t *testing.T) {
	if OpsFor[int64]().Kind() != types.KindInteger {
		t.Fatal("expected integer ops for int64")
	}
	if OpsFor[float64]().Kind() != types.KindFloating {
		t.Fatal("expected floating ops for float64")
	}
}
