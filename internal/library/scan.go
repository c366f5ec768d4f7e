package library

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"

	"github.com/slipmat/deckd/internal/observability/telemetry"
	"github.com/slipmat/deckd/internal/rt"
)

// ErrScannerFailed is returned when the scanner process exits reporting
// failure.
var ErrScannerFailed = errors.New("library scan exited reporting failure")

// ImportSummary reports the outcome of one scan.
type ImportSummary struct {
	ImportID string
	Crate    string
	Records  int
}

// Import scans a record path with the given scanner executable and merges
// the results into the library. The scanner writes one record per line to
// stdout: pathname, artist and title separated by tabs. Records land in the
// all-records crate plus a crate named after the path's base name. Nothing
// is merged if the scan fails part-way.
func (l *Library) Import(ctx context.Context, scanner, path string) (ImportSummary, error) {
	rt.AssertNotRealtime()

	if scanner == "" {
		return ImportSummary{}, fmt.Errorf("scanner executable is required")
	}
	if path == "" {
		return ImportSummary{}, fmt.Errorf("scan path is required")
	}

	importID := uuid.NewString()
	correlation := telemetry.Correlation{ImportID: importID, Component: "library"}
	l.emitter.EmitLog("info", "scanning record path", map[string]string{"path": path}, correlation)

	records, err := runScanner(ctx, scanner, path)
	if err != nil {
		l.emitter.EmitLog("error", "library scan failed", map[string]string{
			"path":  path,
			"error": err.Error(),
		}, correlation)
		return ImportSummary{}, err
	}

	crateName := filepath.Base(filepath.Clean(path))

	l.mu.Lock()
	crate, err := l.useCrate(crateName, false)
	if err != nil {
		l.mu.Unlock()
		return ImportSummary{}, err
	}
	l.all.add(records...)
	crate.add(records...)
	l.all.sortListing()
	crate.sortListing()
	l.mu.Unlock()

	l.emitter.EmitMetric("records_imported", float64(len(records)), "count", map[string]string{
		"crate": crateName,
	}, correlation)
	l.emitter.EmitLog("info", "library scan finished", map[string]string{
		"path":    path,
		"records": strconv.Itoa(len(records)),
	}, correlation)

	return ImportSummary{ImportID: importID, Crate: crateName, Records: len(records)}, nil
}

func runScanner(ctx context.Context, scanner, path string) ([]*Record, error) {
	cmd := exec.CommandContext(ctx, scanner, path)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("scanner stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("launch library scanner %s: %w", scanner, err)
	}

	records, parseErr := parseRecords(bufio.NewReader(stdout))

	waitErr := cmd.Wait()
	if parseErr != nil {
		return nil, parseErr
	}
	if waitErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrScannerFailed, waitErr)
	}
	return records, nil
}

// parseRecords reads tab/newline-delimited records. End-of-input is only
// clean on a record boundary.
func parseRecords(r *bufio.Reader) ([]*Record, error) {
	var records []*Record
	for {
		pathname, err := readField(r, '\t')
		if err != nil {
			if errors.Is(err, io.EOF) && pathname == "" {
				return records, nil
			}
			return nil, fmt.Errorf("reading pathname: %w", err)
		}

		artist, err := readField(r, '\t')
		if err != nil {
			return nil, fmt.Errorf("reading artist for %q: %w", pathname, err)
		}

		title, err := readField(r, '\n')
		if err != nil {
			return nil, fmt.Errorf("reading title for %q: %w", pathname, err)
		}

		records = append(records, &Record{Pathname: pathname, Artist: artist, Title: title})
	}
}

// readField reads up to and not including the delimiter. A field truncated
// by end-of-input is an error; the partial content is returned so callers
// can distinguish clean end-of-input from a torn record.
func readField(r *bufio.Reader, delim byte) (string, error) {
	field, err := r.ReadString(delim)
	if err != nil {
		return field, err
	}
	return field[:len(field)-1], nil
}
