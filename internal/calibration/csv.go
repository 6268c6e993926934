package calibration

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// CSV column headers.
const (
	csvDeviceHeader = "device_value"
	csvRealHeader   = "real_value"
)

// ReadCSV parses a two-column "device_value,real_value" table and builds a
// calibration for gas. A header row is optional; blank lines and lines
// starting with '#' are skipped.
func ReadCSV(gas string, r io.Reader) (*Calibration, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = 2
	cr.TrimLeadingSpace = true

	var device, real []float64
	line := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: reading csv: %w", ErrInvalid, err)
		}
		line++

		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), csvDeviceHeader) {
			continue
		}

		d, err := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d device value: %w", ErrInvalid, line, err)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d real value: %w", ErrInvalid, line, err)
		}
		device = append(device, d)
		real = append(real, v)
	}

	return New(gas, device, real)
}

// WriteCSV writes the calibration points, ordered by device value, with a
// header row.
func WriteCSV(w io.Writer, c *Calibration) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{csvDeviceHeader, csvRealHeader}); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for _, p := range c.Points() {
		row := []string{
			strconv.FormatFloat(p.Device, 'g', -1, 64),
			strconv.FormatFloat(p.Real, 'g', -1, 64),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
