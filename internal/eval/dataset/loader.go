package dataset

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/parquet-go/parquet-go"
)

// Loader handles loading of labelled meal datasets
type Loader struct {
	pattern string
}

// NewLoader creates a new dataset loader. pattern is a file path or a
// doublestar glob such as data/**/*.parquet.
func NewLoader(pattern string) *Loader {
	return &Loader{
		pattern: pattern,
	}
}

// Files expands the pattern into a sorted list of dataset files
func (l *Loader) Files() ([]string, error) {
	matches, err := doublestar.FilepathGlob(l.pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("invalid dataset pattern %q: %w", l.pattern, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no dataset files match %q", l.pattern)
	}
	sort.Strings(matches)
	return matches, nil
}

// Load reads every matching file. A limit of zero or less loads everything.
func (l *Loader) Load(limit int) ([]MealRecord, error) {
	files, err := l.Files()
	if err != nil {
		return nil, err
	}

	var records []MealRecord
	for _, path := range files {
		remaining := -1
		if limit > 0 {
			remaining = limit - len(records)
			if remaining <= 0 {
				break
			}
		}
		batch, err := loadFile(path, remaining)
		if err != nil {
			return nil, err
		}
		slog.Debug("Loaded dataset file", "path", path, "records", len(batch))
		records = append(records, batch...)
	}

	for i := range records {
		if records[i].ID == "" {
			records[i].ID = fmt.Sprintf("meal-%04d", i+1)
		}
	}
	return records, nil
}

func loadFile(path string, limit int) ([]MealRecord, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".parquet":
		return loadParquet(path, limit)
	case ".jsonl", ".json":
		return loadJSONL(path, limit)
	default:
		return nil, fmt.Errorf("unsupported file format: %s (supported: .parquet, .jsonl)", ext)
	}
}

// loadJSONL loads records from a JSONL file, one meal per line
func loadJSONL(path string, limit int) ([]MealRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset file: %w", err)
	}
	defer file.Close()

	var records []MealRecord
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	lineNum := 0
	for scanner.Scan() {
		if limit > 0 && len(records) >= limit {
			break
		}
		lineNum++
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}

		var record MealRecord
		if err := json.Unmarshal(line, &record); err != nil {
			return nil, fmt.Errorf("failed to parse JSON at %s line %d: %w", path, lineNum, err)
		}
		records = append(records, record)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading dataset: %w", err)
	}
	return records, nil
}

// loadParquet loads records from a Parquet file in batches
func loadParquet(path string, limit int) ([]MealRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	pf, err := parquet.OpenFile(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet: %w", err)
	}
	slog.Debug("Parquet file opened", "path", path, "num_rows", pf.NumRows(), "num_row_groups", len(pf.RowGroups()))

	reader := parquet.NewGenericReader[MealRecord](pf)
	defer reader.Close()

	var records []MealRecord
	rows := make([]MealRecord, 128)
	for {
		n, err := reader.Read(rows)
		if n > 0 {
			if limit > 0 && len(records)+n > limit {
				n = limit - len(records)
			}
			records = append(records, rows[:n]...)
		}
		if limit > 0 && len(records) >= limit {
			break
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to read parquet rows: %w", err)
		}
	}
	return records, nil
}

// WriteParquet writes records to path. Used to build fixture datasets.
func WriteParquet(path string, records []MealRecord) error {
	if err := parquet.WriteFile(path, records); err != nil {
		return fmt.Errorf("failed to write parquet file: %w", err)
	}
	return nil
}
