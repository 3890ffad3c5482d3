package catalog

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

const (
	fieldSep  = ";"
	minFields = 6
)

// Parse reads a catalog file: a header line followed by one record per
// line as GameName;ReleaseName;PackageName;VersionCode;LastUpdated;SizeMB
// with an optional trailing Notes column. Malformed lines are skipped and
// counted.
func Parse(r io.Reader) (records []GameRecord, skipped int, err error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	header := true
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if header {
			header = false
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec, perr := parseLine(line)
		if perr != nil {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, skipped, fmt.Errorf("read catalog: %w", err)
	}
	return records, skipped, nil
}

func parseLine(line string) (GameRecord, error) {
	f := strings.Split(line, fieldSep)
	if len(f) < minFields {
		return GameRecord{}, fmt.Errorf("want %d fields, got %d", minFields, len(f))
	}
	for i := range f {
		f[i] = strings.TrimSpace(f[i])
	}

	rec := GameRecord{
		GameName:    f[0],
		ReleaseName: f[1],
		PackageName: f[2],
	}
	if rec.ReleaseName == "" {
		return GameRecord{}, fmt.Errorf("empty release name")
	}

	var err error
	if rec.VersionCode, err = strconv.ParseInt(f[3], 10, 64); err != nil {
		return GameRecord{}, fmt.Errorf("version code %q: %w", f[3], err)
	}
	if f[4] != "" {
		if rec.LastUpdated, err = time.Parse(TimeLayout, f[4]); err != nil {
			return GameRecord{}, fmt.Errorf("last updated %q: %w", f[4], err)
		}
	}
	if rec.SizeMB, err = strconv.ParseFloat(f[5], 64); err != nil {
		return GameRecord{}, fmt.Errorf("size %q: %w", f[5], err)
	}
	if len(f) > minFields {
		rec.Notes = strings.Join(f[minFields:], fieldSep)
	}
	return rec, nil
}
