//go:build !linux

package hiccup

import "time"

func sleepNs(ns int64) {
	if ns <= 0 {
		return
	}
	time.Sleep(time.Duration(ns))
}
