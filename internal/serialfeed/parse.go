package serialfeed

import (
	"fmt"
	"strconv"
	"strings"
)

// Stream tags emitted by the wearable bridge, one per CSV line.
const (
	TagEEG = "E"
	TagPPG = "P"
	TagACC = "A"
)

// ParseLine splits one bridge line into its stream tag and numeric fields.
// Blank lines and '#' status chatter return an empty tag and no error.
func ParseLine(line string) (string, []float64, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", nil, nil
	}

	fields := strings.Split(line, ",")
	tag := strings.TrimSpace(fields[0])
	vals := make([]float64, 0, len(fields)-1)
	for _, field := range fields[1:] {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return tag, nil, fmt.Errorf("field %q: %w", field, err)
		}
		vals = append(vals, v)
	}
	return tag, vals, nil
}
