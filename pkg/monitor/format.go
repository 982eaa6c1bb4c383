/*
Copyright © 2025 ALESSIO TONIOLO
*/
package monitor

import "fmt"

func formatPercentAlert(prefix string, value float64) string {
	return fmt.Sprintf("%s: %.1f%%", prefix, value)
}

func formatSecondsAlert(prefix string, value float64) string {
	return fmt.Sprintf("%s: %.2fs", prefix, value)
}
