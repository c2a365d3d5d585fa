// Package mhseq implements spec §4.B: reading and writing MH's
// .mh_sequences sidecar file, including range compression and
// preservation of sequence names the core does not itself interpret.
package mhseq

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/localbox/mailstore/internal/mailstore"
	"github.com/localbox/mailstore/internal/mailstore/seqtable"
	"github.com/localbox/mailstore/internal/mailstore/tempfile"
)

// Names is a shorthand for the three configured sequence names, reused
// from mailstore.SequenceNames so callers don't need two import paths.
type Names = mailstore.SequenceNames

func bitForName(names Names, name string) (seqtable.Bit, bool) {
	switch name {
	case names.Unseen:
		return seqtable.Unseen, true
	case names.Flagged:
		return seqtable.Flagged, true
	case names.Replied:
		return seqtable.Replied, true
	default:
		return 0, false
	}
}

func nameForBit(names Names, bit seqtable.Bit) string {
	switch bit {
	case seqtable.Unseen:
		return names.Unseen
	case seqtable.Flagged:
		return names.Flagged
	case seqtable.Replied:
		return names.Replied
	default:
		return ""
	}
}

// Read loads path into table. A missing file is not an error: it is
// treated as an empty table (spec §4.B "Failure semantics").
func Read(path string, names Names, table *seqtable.Table) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &mailstore.IoError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := parseLine(line, names, table); err != nil {
			table.ClearAll()
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return &mailstore.IoError{Op: "read", Path: path, Err: err}
	}
	return nil
}

func parseLine(line string, names Names, table *seqtable.Table) error {
	tokens := strings.FieldsFunc(line, func(r rune) bool {
		return r == ' ' || r == '\t' || r == ':'
	})
	if len(tokens) == 0 {
		return nil
	}
	bit, known := bitForName(names, tokens[0])
	if !known {
		return nil
	}
	for _, tok := range tokens[1:] {
		lo, hi, err := parseRange(tok)
		if err != nil {
			return &mailstore.FormatError{Reason: fmt.Sprintf("mh_sequences: %q: %v", line, err)}
		}
		for i := lo; i <= hi; i++ {
			table.SetBit(i, bit, true)
		}
	}
	return nil
}

func parseRange(tok string) (int, int, error) {
	if dash := strings.IndexByte(tok, '-'); dash >= 0 {
		lo, err := strconv.Atoi(tok[:dash])
		if err != nil {
			return 0, 0, err
		}
		hi, err := strconv.Atoi(tok[dash+1:])
		if err != nil {
			return 0, 0, err
		}
		if hi < lo {
			return 0, 0, fmt.Errorf("invalid range %q", tok)
		}
		return lo, hi, nil
	}
	n, err := strconv.Atoi(tok)
	if err != nil {
		return 0, 0, err
	}
	return n, n, nil
}

// Write rewrites path: every line whose prefix is not one of the three
// configured "<name>:" prefixes is copied verbatim, then one fresh line
// per bit that appears in table is emitted, range-compressed. The write
// goes through tempfile.New + rename, per spec §4.B/§4.I.
func Write(path string, names Names, table *seqtable.Table) error {
	preserved, err := preservedLines(path, names)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	f, tmpPath, err := tempfile.New(dir, "mh_sequences", 0o600)
	if err != nil {
		return &mailstore.IoError{Op: "create temp", Path: dir, Err: err}
	}

	writeErr := func() error {
		w := bufio.NewWriter(f)
		for _, line := range preserved {
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
		for _, bit := range []seqtable.Bit{seqtable.Unseen, seqtable.Flagged, seqtable.Replied} {
			idx := table.Indices(bit)
			if len(idx) == 0 {
				continue
			}
			name := nameForBit(names, bit)
			if name == "" {
				continue
			}
			if _, err := fmt.Fprintf(w, "%s: %s\n", name, formatRanges(idx)); err != nil {
				return err
			}
		}
		return w.Flush()
	}()
	closeErr := f.Close()
	if writeErr != nil || closeErr != nil {
		tempfile.Unlink(tmpPath)
		if writeErr != nil {
			return &mailstore.IoError{Op: "write", Path: tmpPath, Err: writeErr}
		}
		return &mailstore.IoError{Op: "close", Path: tmpPath, Err: closeErr}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		tempfile.Unlink(tmpPath)
		return &mailstore.IoError{Op: "rename", Path: path, Err: err}
	}
	return nil
}

// preservedLines returns every line of the current file that does not
// begin with one of the three configured "<name>:" prefixes. A missing
// source file yields no preserved lines.
func preservedLines(path string, names Names) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &mailstore.IoError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	prefixes := []string{names.Unseen + ":", names.Flagged + ":", names.Replied + ":"}
	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		matched := false
		for _, p := range prefixes {
			if strings.HasPrefix(line, p) {
				matched = true
				break
			}
		}
		if !matched && strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out, scanner.Err()
}

// formatRanges compresses a sorted list of indices into "N" / "N-M"
// tokens, e.g. {3,4,5,9,10} -> "3-5 9-10".
func formatRanges(indices []int) string {
	sort.Ints(indices)
	var parts []string
	i := 0
	for i < len(indices) {
		start := indices[i]
		end := start
		j := i + 1
		for j < len(indices) && indices[j] == end+1 {
			end = indices[j]
			j++
		}
		if start == end {
			parts = append(parts, strconv.Itoa(start))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", start, end))
		}
		i = j
	}
	return strings.Join(parts, " ")
}

// AppendOne is the specialized fast path spec §4.B describes: for each
// matching existing "<name>:" line, append " <n>" at end of line; for any
// requested flag lacking a line, emit a fresh "<name>: <n>" line.
func AppendOne(path string, names Names, n int, unseen, flagged, replied bool) error {
	wanted := map[string]bool{}
	if unseen {
		wanted[names.Unseen] = true
	}
	if flagged {
		wanted[names.Flagged] = true
	}
	if replied {
		wanted[names.Replied] = true
	}
	if len(wanted) == 0 {
		return nil
	}

	existingLines, err := allLines(path)
	if err != nil {
		return err
	}

	seen := map[string]bool{}
	for i, line := range existingLines {
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		name := line[:colon]
		if wanted[name] {
			existingLines[i] = fmt.Sprintf("%s %d", line, n)
			seen[name] = true
		}
	}
	for name := range wanted {
		if !seen[name] {
			existingLines = append(existingLines, fmt.Sprintf("%s: %d", name, n))
		}
	}

	dir := filepath.Dir(path)
	f, tmpPath, err := tempfile.New(dir, "mh_sequences", 0o600)
	if err != nil {
		return &mailstore.IoError{Op: "create temp", Path: dir, Err: err}
	}
	writeErr := func() error {
		w := bufio.NewWriter(f)
		for _, line := range existingLines {
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
		return w.Flush()
	}()
	closeErr := f.Close()
	if writeErr != nil || closeErr != nil {
		tempfile.Unlink(tmpPath)
		if writeErr != nil {
			return &mailstore.IoError{Op: "write", Path: tmpPath, Err: writeErr}
		}
		return &mailstore.IoError{Op: "close", Path: tmpPath, Err: closeErr}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		tempfile.Unlink(tmpPath)
		return &mailstore.IoError{Op: "rename", Path: path, Err: err}
	}
	return nil
}

func allLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &mailstore.IoError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out, scanner.Err()
}
