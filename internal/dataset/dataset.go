package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

const (
	DefaultLogSuffix = ".Master.log"
	TrainSuffix      = ".Train.csv"
	TestSuffix       = ".Test.csv"
)

var (
	ErrMissingCompanion = errors.New("companion dataset not found")
	ErrEmptyHeader      = errors.New("dataset header is empty")
)

// Dataset is one Train or Test table. The first column is the target; a
// trailing "dy" and "weight" column are recognised by name.
type Dataset struct {
	Path     string      `json:"path"`
	Features []string    `json:"features"`
	X        [][]float64 `json:"-"`
	Y        []float64   `json:"-"`
	DY       []float64   `json:"-"`
	Weight   []float64   `json:"-"`
}

// Info is the compact description written to run artifacts.
type Info struct {
	Path      string   `json:"path"`
	Rows      int      `json:"rows"`
	Features  []string `json:"features"`
	HasDY     bool     `json:"has_dy"`
	HasWeight bool     `json:"has_weight"`
	YMin      float64  `json:"y_min"`
	YMax      float64  `json:"y_max"`
}

func (d Dataset) Rows() int { return len(d.Y) }

func (d Dataset) Info() Info {
	info := Info{
		Path:      d.Path,
		Rows:      d.Rows(),
		Features:  append([]string(nil), d.Features...),
		HasDY:     d.DY != nil,
		HasWeight: d.Weight != nil,
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, y := range d.Y {
		if math.IsNaN(y) || math.IsInf(y, 0) {
			continue
		}
		lo = math.Min(lo, y)
		hi = math.Max(hi, y)
	}
	if lo <= hi {
		info.YMin, info.YMax = lo, hi
	}
	return info
}

// Pair holds the Train and Test tables that accompany one log.
type Pair struct {
	Train Dataset
	Test  Dataset
}

// Companions derives the Train and Test paths of a log file by swapping its suffix.
func Companions(logPath, suffix string) (train, test string) {
	if suffix == "" {
		suffix = DefaultLogSuffix
	}
	stem := strings.TrimSuffix(logPath, suffix)
	return stem + TrainSuffix, stem + TestSuffix
}

// LoadCompanions reads both companion tables. A missing table is an error
// wrapping ErrMissingCompanion.
func LoadCompanions(logPath, suffix string) (Pair, error) {
	trainPath, testPath := Companions(logPath, suffix)
	train, err := ReadFile(trainPath)
	if err != nil {
		return Pair{}, err
	}
	test, err := ReadFile(testPath)
	if err != nil {
		return Pair{}, err
	}
	return Pair{Train: train, Test: test}, nil
}

func ReadFile(path string) (Dataset, error) {
	if strings.TrimSpace(path) == "" {
		return Dataset{}, fmt.Errorf("dataset path is required")
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Dataset{}, fmt.Errorf("%w: %s", ErrMissingCompanion, path)
		}
		return Dataset{}, err
	}
	defer f.Close()
	ds, err := Read(f)
	if err != nil {
		return Dataset{}, fmt.Errorf("read dataset %s: %w", path, err)
	}
	ds.Path = path
	return ds, nil
}

func Read(in io.Reader) (Dataset, error) {
	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return Dataset{}, ErrEmptyHeader
	}
	if err != nil {
		return Dataset{}, fmt.Errorf("read dataset header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	if len(header) == 0 || header[0] == "" {
		return Dataset{}, ErrEmptyHeader
	}

	dyCol, weightCol := -1, -1
	last := len(header) - 1
	if last > 0 && strings.EqualFold(header[last], "weight") {
		weightCol = last
		last--
	}
	if last > 0 && strings.EqualFold(header[last], "dy") {
		dyCol = last
		last--
	}

	ds := Dataset{Features: append([]string(nil), header[1:last+1]...)}
	if dyCol >= 0 {
		ds.DY = []float64{}
	}
	if weightCol >= 0 {
		ds.Weight = []float64{}
	}

	rowIndex := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Dataset{}, fmt.Errorf("read dataset row %d: %w", rowIndex, err)
		}
		if blankRecord(record) {
			continue
		}
		if len(record) != len(header) {
			return Dataset{}, fmt.Errorf("dataset row %d has %d columns, header has %d", rowIndex, len(record), len(header))
		}
		values := make([]float64, len(record))
		for i, raw := range record {
			v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil {
				return Dataset{}, fmt.Errorf("parse dataset row %d column %s: %w", rowIndex, header[i], err)
			}
			values[i] = v
		}
		ds.Y = append(ds.Y, values[0])
		ds.X = append(ds.X, values[1:last+1])
		if dyCol >= 0 {
			ds.DY = append(ds.DY, values[dyCol])
		}
		if weightCol >= 0 {
			ds.Weight = append(ds.Weight, values[weightCol])
		}
		rowIndex++
	}
	return ds, nil
}

func blankRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
