package service

import (
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/cashback-next/internal/constants"
)

func normalizeCurrency(currency, fallback string) string {
	normalized := strings.ToUpper(strings.TrimSpace(currency))
	if normalized != "" {
		return normalized
	}
	fallback = strings.ToUpper(strings.TrimSpace(fallback))
	if fallback == "" {
		return constants.CurrencyDefault
	}
	return fallback
}

func cleanRemark(raw string, fallback string) string {
	remark := strings.TrimSpace(raw)
	if remark == "" {
		return fallback
	}
	return remark
}

// randomHex 生成 n 字节的随机十六进制串，随机源不可用时返回错误
func randomHex(n int) (string, error) {
	if n <= 0 {
		n = 8
	}
	buf := make([]byte, n)
	if _, err := crand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// generateSerialNo 生成带日期的业务编号，如 BGT20260101xxxxxxxx
func generateSerialNo(prefix string, now time.Time) (string, error) {
	suffix, err := randomHex(5)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%s%s", prefix, now.Format("20060102"), strings.ToUpper(suffix)), nil
}

func uintPtr(v uint) *uint {
	return &v
}

func timePtr(t time.Time) *time.Time {
	return &t
}
