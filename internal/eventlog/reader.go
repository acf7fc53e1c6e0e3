package eventlog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"evoviz/internal/model"
	"evoviz/internal/topology"
)

// RowReader turns a flat file into raw positional rows.
type RowReader interface {
	ReadRows(path string) ([][]string, int, error)
}

// CSVRowReader reads comma-separated master logs. Rows may have differing
// field counts since each event type has its own arity.
type CSVRowReader struct{}

func (CSVRowReader) ReadRows(path string) ([][]string, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer file.Close()

	rows, err := ReadRowsFrom(file)
	if err != nil {
		return nil, 0, fmt.Errorf("read %s: %w", path, err)
	}
	return rows, len(rows), nil
}

func ReadRowsFrom(in io.Reader) ([][]string, error) {
	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = false

	rows := make([][]string, 0, 1024)
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		if blankRecord(record) {
			continue
		}
		for i := range record {
			record[i] = strings.TrimSpace(record[i])
		}
		rows = append(rows, record)
	}
	return rows, nil
}

// Load reads and decodes a master log in one step.
func Load(reader RowReader, path string, topo topology.Topology) ([]model.LogRecord, error) {
	if reader == nil {
		reader = CSVRowReader{}
	}
	rows, _, err := reader.ReadRows(path)
	if err != nil {
		return nil, err
	}
	records, err := Decode(rows, topo)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return records, nil
}

func blankRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
