package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// FormatYuan 将分转换为两位小数的元字符串
func FormatYuan(fen int64) string {
	return decimal.NewFromInt(fen).Div(hundred).StringFixed(2)
}

// ParseYuan 将元字符串转换为分，拒绝超过两位小数的精度
func ParseYuan(raw string) (int64, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	fen := amount.Mul(hundred)
	if !fen.Equal(fen.Truncate(0)) {
		return 0, fmt.Errorf("amount %q exceeds fen precision", raw)
	}
	return fen.IntPart(), nil
}
