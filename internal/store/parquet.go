// Package store persists row slices as local parquet files. Every write
// replaces the target atomically: rows go to a temp file in the same
// directory which is then renamed over the target.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/common"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"
)

// parallelism is the goroutine count handed to the parquet reader and writer.
const parallelism = 4

// Read loads every row of a parquet file. A missing file is an empty store.
// T must be a struct carrying parquet tags.
func Read[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(T), parallelism)
	if err != nil {
		return nil, fmt.Errorf("read parquet schema %s: %w", path, err)
	}
	defer pr.ReadStop()

	n := int(pr.GetNumRows())
	rows := make([]T, n)
	if n == 0 {
		return rows, nil
	}
	if err := pr.Read(&rows); err != nil {
		return nil, fmt.Errorf("read parquet rows %s: %w", path, err)
	}
	return rows, nil
}

// Write replaces the file at path with rows.
func Write[T any](path string, rows []T) error {
	return replace(path, func(tmp string) error { return writeRows(tmp, rows) })
}

// WriteJSON replaces the file at path with rows encoded against a parquet
// JSON schema. Each row is a JSON object keyed by column name.
func WriteJSON(path, schema string, rows []string) error {
	return replace(path, func(tmp string) error { return writeJSONRows(tmp, schema, rows) })
}

// replace runs write against a temp file next to path and renames it over
// path once write succeeds.
func replace(path string, write func(tmp string) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	tmp.Close()

	if err := write(tmpName); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

func writeRows[T any](path string, rows []T) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer fw.Close()

	pw, err := writer.NewParquetWriter(fw, new(T), parallelism)
	if err != nil {
		return fmt.Errorf("parquet writer: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024 // 128M
	pw.PageSize = 8 * 1024              // 8k
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i := range rows {
		if err := pw.Write(rows[i]); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("finish parquet: %w", err)
	}
	return nil
}

func writeJSONRows(path, schema string, rows []string) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer fw.Close()

	pw, err := writer.NewJSONWriter(schema, fw, parallelism)
	if err != nil {
		return fmt.Errorf("parquet json writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i := range rows {
		if err := pw.Write(rows[i]); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("finish parquet: %w", err)
	}
	return nil
}

// Columns lists the leaf column names of a parquet file in schema order.
// A missing file has no columns.
func Columns(path string) ([]string, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetColumnReader(fr, parallelism)
	if err != nil {
		return nil, fmt.Errorf("read parquet footer %s: %w", path, err)
	}
	defer pr.ReadStop()

	sh := pr.SchemaHandler
	var names []string
	for i := 1; i < len(sh.SchemaElements); i++ {
		if sh.SchemaElements[i].GetNumChildren() == 0 {
			names = append(names, sh.GetExName(i))
		}
	}
	return names, nil
}

// ReadColumns loads the named top-level columns of a parquet file. values
// maps each name to one entry per row. A missing file yields zero rows.
func ReadColumns(path string, names []string) (values map[string][]any, rows int, err error) {
	values = make(map[string][]any, len(names))
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return values, 0, nil
	}

	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetColumnReader(fr, parallelism)
	if err != nil {
		return nil, 0, fmt.Errorf("read parquet footer %s: %w", path, err)
	}
	defer pr.ReadStop()

	rows = int(pr.GetNumRows())
	if rows == 0 {
		return values, 0, nil
	}
	root := pr.SchemaHandler.GetRootExName()
	for _, name := range names {
		col, _, _, err := pr.ReadColumnByPath(common.ReformPathStr(root+"."+name), int64(rows))
		if err != nil {
			return nil, 0, fmt.Errorf("read column %q of %s: %w", name, path, err)
		}
		if len(col) != rows {
			return nil, 0, fmt.Errorf("column %q of %s: %d values for %d rows", name, path, len(col), rows)
		}
		values[name] = col
	}
	return values, rows, nil
}

var epoch = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

// DateToDays encodes a calendar date as a parquet DATE (days since epoch).
func DateToDays(t time.Time) int32 {
	y, m, d := t.Date()
	return int32(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Sub(epoch).Hours() / 24)
}

// DaysToDate decodes a parquet DATE into a UTC-midnight time.
func DaysToDate(days int32) time.Time {
	return epoch.AddDate(0, 0, int(days))
}
