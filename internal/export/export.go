// Package export writes visitor lists as JSON or CSV.
package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"visitrack/internal/visitors"
)

type Format string

const (
	JSON Format = "json"
	CSV  Format = "csv"
)

var ErrUnsupportedFormat = errors.New("unsupported export format, expected json or csv")

// CSVHeader is the first row of every CSV export.
var CSVHeader = []string{"ipAddress", "projectName", "browser", "device", "location", "lastVisit"}

// ParseFormat accepts json or csv in any case. Empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", JSON:
		return JSON, nil
	case CSV:
		return CSV, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// ContentType is the MIME type of the format.
func (f Format) ContentType() string {
	if f == CSV {
		return "text/csv; charset=utf-8"
	}
	return "application/json"
}

// Filename is the download name for an export taken at t.
func (f Format) Filename(t time.Time) string {
	return fmt.Sprintf("visitors-%s.%s", t.UTC().Format("20060102-150405"), f)
}

// Write encodes list to w. JSON output is indented when pretty is set.
func Write(w io.Writer, f Format, list []visitors.Visitor, pretty bool) error {
	switch f {
	case JSON:
		enc := json.NewEncoder(w)
		if pretty {
			enc.SetIndent("", "  ")
		}
		if list == nil {
			list = []visitors.Visitor{}
		}
		return enc.Encode(list)
	case CSV:
		return writeCSV(w, list)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
	}
}

func writeCSV(w io.Writer, list []visitors.Visitor) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, v := range list {
		row := []string{
			v.IPAddress,
			v.ProjectName,
			v.Browser,
			v.Device,
			v.Location,
			v.LastVisit.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
