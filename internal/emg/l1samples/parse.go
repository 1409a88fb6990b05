package l1samples

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/myo.mouse/internal/emg"
)

// ParseLine decodes one delimited sample row.
//
// Fields may be separated by commas, semicolons, tabs or spaces. A row with
// exactly channels values is stamped with now. A row with channels+1 values
// carries a leading timestamp in (fractional) Unix seconds.
func ParseLine(line string, channels int, now time.Time) (emg.Sample, error) {
	fields := strings.FieldsFunc(strings.TrimSpace(line), func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t'
	})

	var ts time.Time
	switch len(fields) {
	case channels:
		ts = now
	case channels + 1:
		secs, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return emg.Sample{}, fmt.Errorf("failed to parse timestamp %q: %v", fields[0], err)
		}
		whole, frac := math.Modf(secs)
		ts = time.Unix(int64(whole), int64(frac*1e9))
		fields = fields[1:]
	default:
		return emg.Sample{}, fmt.Errorf("invalid sample row: %d fields, expected %d or %d", len(fields), channels, channels+1)
	}

	values := make([]float64, channels)
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return emg.Sample{}, fmt.Errorf("failed to parse channel %d: %v", i, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return emg.Sample{}, fmt.Errorf("channel %d is not finite", i)
		}
		values[i] = v
	}
	return emg.Sample{Timestamp: ts, Values: values}, nil
}

// FormatLine encodes a sample as a comma separated row with a leading Unix
// timestamp, the inverse of ParseLine.
func FormatLine(s emg.Sample) string {
	var sb strings.Builder
	sb.WriteString(strconv.FormatFloat(float64(s.Timestamp.UnixNano())/1e9, 'f', 6, 64))
	for _, v := range s.Values {
		sb.WriteByte(',')
		sb.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	return sb.String()
}
