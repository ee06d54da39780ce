package backend

import (
	"encoding/csv"
	"io"
	"strconv"
)

// CSVHeader is the first row of every export, including empty ones.
var CSVHeader = []string{
	"ID", "Timestamp", "Latitude", "Longitude", "Flame",
	"Smoke", "Distance", "Acc X", "Acc Y", "Acc Z",
}

// WriteCSV writes the header followed by one row per reading, in the order
// given.
func WriteCSV(w io.Writer, readings []Reading) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(CSVHeader); err != nil {
		return err
	}

	row := make([]string, len(CSVHeader))
	for _, r := range readings {
		row[0] = strconv.FormatUint(uint64(r.ID), 10)
		row[1] = r.Timestamp
		row[2] = formatFloat(r.Latitude)
		row[3] = formatFloat(r.Longitude)
		row[4] = formatFloat(r.Flame)
		row[5] = formatFloat(r.Smoke)
		row[6] = formatFloat(r.Distance)
		row[7] = formatFloat(r.AccX)
		row[8] = formatFloat(r.AccY)
		row[9] = formatFloat(r.AccZ)

		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
