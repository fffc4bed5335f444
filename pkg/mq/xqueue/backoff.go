package xqueue

import (
	"crypto/rand"
	"encoding/binary"
	"math"
	"time"
)

// backoffDelay 计算第 attempt 次失败后的重试延迟。
// delay = min(initial * 2^(attempt-1) * (1 + rand(-1,1) * jitter), max)
//
// 抖动避免同批失败的任务在同一时刻集中重试。
func backoffDelay(initial, max time.Duration, attempt int) time.Duration {
	if initial <= 0 {
		return 0
	}
	if max < initial {
		max = initial
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(initial) * math.Pow(2, float64(attempt-1))

	const jitter = 0.1
	delay *= 1.0 + (randomFloat64()*2-1)*jitter

	// attempt 极大时 math.Pow 溢出为 +Inf，NaN/负数一律视为已达上限
	if math.IsNaN(delay) || delay < 0 || delay >= float64(max) {
		return max
	}
	return time.Duration(delay)
}

const (
	floatBits  = 53
	floatScale = 1.0 / (1 << floatBits)
)

func randomFloat64() float64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand 失败时返回 0，即无抖动
		return 0
	}
	return float64(binary.LittleEndian.Uint64(buf[:])>>11) * floatScale
}
