package optimizer

import (
	"fmt"
	"strconv"
	"strings"
)

// extractBufferIndex extracts the buffer index from state tensor names like "momentum_0".
func extractBufferIndex(name string) int {
	i := strings.LastIndex(name, "_")
	if i < 0 {
		return -1
	}
	idx, err := strconv.Atoi(name[i+1:])
	if err != nil || idx < 0 {
		return -1
	}
	return idx
}

func bufferName(prefix string, idx int) string {
	return fmt.Sprintf("%s_%d", prefix, idx)
}

func extractFloat32Param(params map[string]float64, key string, defaultValue float32) float32 {
	if val, ok := params[key]; ok {
		return float32(val)
	}
	return defaultValue
}

// extractBoolParam reads a flag stored as 0 or 1.
func extractBoolParam(params map[string]float64, key string, defaultValue bool) bool {
	if val, ok := params[key]; ok {
		return val != 0
	}
	return defaultValue
}

func extractUint64Param(params map[string]float64, key string, defaultValue uint64) uint64 {
	if val, ok := params[key]; ok && val >= 0 {
		return uint64(val)
	}
	return defaultValue
}

func boolParam(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
