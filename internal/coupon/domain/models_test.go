package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "SAVE10", NormalizeCode("save10"))
	assert.Equal(t, "SAVE10", NormalizeCode("  Save10  "))
	assert.Equal(t, "", NormalizeCode("   "))
}

func TestComputeDiscount(t *testing.T) {
	maxDiscount := int64(500)

	tests := []struct {
		name   string
		coupon Coupon
		total  int64
		want   int64
	}{
		{
			name:   "percentage basic",
			coupon: Coupon{DiscountKind: DiscountKindPercentage, DiscountValue: 10},
			total:  2500,
			want:   250,
		},
		{
			name:   "percentage rounds half up",
			coupon: Coupon{DiscountKind: DiscountKindPercentage, DiscountValue: 10},
			total:  2505,
			want:   251,
		},
		{
			name: "percentage capped by max discount",
			coupon: Coupon{
				DiscountKind:  DiscountKindPercentage,
				DiscountValue: 10,
				MaxDiscount:   &maxDiscount,
			},
			total: 60000,
			want:  500,
		},
		{
			name:   "fixed basic",
			coupon: Coupon{DiscountKind: DiscountKindFixed, DiscountValue: 300},
			total:  2500,
			want:   300,
		},
		{
			name:   "fixed never exceeds total",
			coupon: Coupon{DiscountKind: DiscountKindFixed, DiscountValue: 5000},
			total:  2500,
			want:   2500,
		},
		{
			name: "fixed capped by max discount",
			coupon: Coupon{
				DiscountKind:  DiscountKindFixed,
				DiscountValue: 800,
				MaxDiscount:   &maxDiscount,
			},
			total: 2500,
			want:  500,
		},
		{
			name:   "zero total",
			coupon: Coupon{DiscountKind: DiscountKindPercentage, DiscountValue: 10},
			total:  0,
			want:   0,
		},
		{
			name:   "unknown kind",
			coupon: Coupon{DiscountKind: DiscountKind("bogus"), DiscountValue: 10},
			total:  2500,
			want:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.coupon.ComputeDiscount(tt.total))
		})
	}
}
