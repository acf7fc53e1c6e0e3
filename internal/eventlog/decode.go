package eventlog

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"evoviz/internal/model"
	"evoviz/internal/topology"
)

// Field positions shared by every event type.
const (
	fieldTime = iota
	fieldGeneration
	fieldType
	fieldAgent
	headerFields
)

// Field positions of the single-solution layout (pocket, best, construct).
const (
	solutionModel = headerFields + iota
	solutionFitness
	solutionError
)

// Field positions of the operator layout (mutate, recombine, local search).
const (
	operatorPreModel = headerFields + iota
	operatorPreFitness
	operatorPreError
	operatorPostModel
	operatorPostFitness
	operatorPostError
)

// Field positions of the bubble-up layout.
const (
	bubblePreModel = headerFields + iota
	bubblePreFitness
	bubblePreError
	bubbleChild
	bubbleChildModel
	bubbleChildFitness
	bubbleChildError
)

var (
	ErrShortRow        = errors.New("row has too few fields")
	ErrAgentRange      = errors.New("agent outside topology")
	ErrGenerationOrder = errors.New("generation decreased")
	ErrNumericField    = errors.New("numeric field is not parseable")
)

// Decode turns raw positional rows into typed records. The stream must be
// generation ordered and every agent must exist in the topology.
func Decode(rows [][]string, topo topology.Topology) ([]model.LogRecord, error) {
	records := make([]model.LogRecord, 0, len(rows))
	lastGeneration := -1
	for i, row := range rows {
		line := i + 1
		record, err := DecodeRow(row, topo)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		if record.Generation < lastGeneration {
			return nil, fmt.Errorf("row %d: %w: %d after %d", line, ErrGenerationOrder, record.Generation, lastGeneration)
		}
		lastGeneration = record.Generation
		record.Line = line
		records = append(records, record)
	}
	return records, nil
}

func DecodeRow(row []string, topo topology.Topology) (model.LogRecord, error) {
	if len(row) <= fieldType {
		return model.LogRecord{}, fmt.Errorf("%w: got %d, need %d", ErrShortRow, len(row), fieldType+1)
	}
	record := model.LogRecord{
		Time: row[fieldTime],
		Type: model.EventType(row[fieldType]),
		Raw:  append([]string(nil), row...),
	}
	generation, err := parseIndex(row[fieldGeneration], "generation")
	if err != nil {
		return model.LogRecord{}, err
	}
	record.Generation = generation

	if !record.Type.Known() {
		// Unrecognised tags are kept so filters can skip them; the agent column
		// is not interpreted for them.
		record.Agent = -1
		return record, nil
	}
	if len(row) < headerFields {
		return model.LogRecord{}, fmt.Errorf("%w: got %d, need %d", ErrShortRow, len(row), headerFields)
	}

	agent, err := parseIndex(row[fieldAgent], "agent")
	if err != nil {
		return model.LogRecord{}, err
	}
	if !topo.Valid(agent) {
		return model.LogRecord{}, fmt.Errorf("%w: agent %d, slots %d", ErrAgentRange, agent, topo.Slots)
	}
	record.Agent = agent

	switch record.Type {
	case model.EventPocketFitness, model.EventBestFitness:
		record.Current, err = decodeSolution(row, solutionModel, solutionFitness, solutionError, true)
	case model.EventAgentConstruct:
		record.Current, err = decodeSolution(row, solutionModel, solutionFitness, solutionError, false)
	case model.EventCurrentMutate, model.EventCurrentRecombine, model.EventPocketLocalSearch:
		record.Pre, err = decodeSolution(row, operatorPreModel, operatorPreFitness, operatorPreError, true)
		if err == nil {
			record.Post, err = decodeSolution(row, operatorPostModel, operatorPostFitness, operatorPostError, true)
		}
	case model.EventBubbleUp:
		record.Pre, err = decodeSolution(row, bubblePreModel, bubblePreFitness, bubblePreError, true)
		if err == nil {
			record.Child, err = decodeChild(row)
		}
		if err == nil {
			record.ChildSolution, err = decodeSolution(row, bubbleChildModel, bubbleChildFitness, bubbleChildError, false)
		}
	}
	if err != nil {
		return model.LogRecord{}, fmt.Errorf("%s: %w", record.Type, err)
	}
	return record, nil
}

func decodeSolution(row []string, modelIdx, fitnessIdx, errorIdx int, required bool) (model.Solution, error) {
	if required && len(row) <= fitnessIdx {
		return model.Solution{}, fmt.Errorf("%w: got %d, need %d", ErrShortRow, len(row), fitnessIdx+1)
	}
	solution := model.Solution{
		Model:   field(row, modelIdx),
		Fitness: math.NaN(),
		Error:   math.NaN(),
	}
	var err error
	if raw := field(row, fitnessIdx); raw != "" || required {
		if solution.Fitness, err = ParseMetric(raw); err != nil {
			return model.Solution{}, fmt.Errorf("fitness field %d: %w", fitnessIdx, err)
		}
	}
	if raw := field(row, errorIdx); raw != "" {
		if solution.Error, err = ParseMetric(raw); err != nil {
			return model.Solution{}, fmt.Errorf("error field %d: %w", errorIdx, err)
		}
	}
	return solution, nil
}

func decodeChild(row []string) (int, error) {
	if len(row) <= bubbleChild {
		return 0, fmt.Errorf("%w: got %d, need %d", ErrShortRow, len(row), bubbleChild+1)
	}
	return parseIndex(row[bubbleChild], "child")
}

// ParseMetric parses a fitness or error value. The "not a number" sentinel in
// any of its printed spellings (nan, NaN, -nan) parses to NaN.
func ParseMetric(raw string) (float64, error) {
	value := strings.TrimSpace(raw)
	if strings.EqualFold(strings.TrimLeft(value, "+-"), "nan") {
		return math.NaN(), nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrNumericField, raw)
	}
	return parsed, nil
}

func parseIndex(raw, name string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", ErrNumericField, name, raw)
	}
	if value < 0 {
		return 0, fmt.Errorf("%s must be non-negative, got %d", name, value)
	}
	return value, nil
}

func field(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}
