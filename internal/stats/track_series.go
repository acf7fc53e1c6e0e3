package stats

import (
	"bufio"
	"fmt"
	"io"

	"evoviz/internal/model"
)

// WriteTrackSeries writes every agent's pocket fitness history as a block of
// "generation fitness" lines, one gnuplot data set per agent.
func WriteTrackSeries(path string, track model.FitnessTrack) error {
	return createFile(path, func(file io.Writer) error {
		w := bufio.NewWriter(file)
		if err := writeTrackSeries(w, track); err != nil {
			return err
		}
		return w.Flush()
	})
}

func writeTrackSeries(w io.Writer, track model.FitnessTrack) error {
	first := true
	for agent, ys := range track.Ys {
		if len(ys) == 0 {
			continue
		}
		separator := "\n\n"
		if first {
			separator = ""
			first = false
		}
		if _, err := fmt.Fprintf(w, "%s#Pocket Fitness Vs Generation, Agent:%d\n", separator, agent); err != nil {
			return err
		}
		var gens []int
		if agent < len(track.Gens) {
			gens = track.Gens[agent]
		}
		if err := writeSeries(w, gens, ys); err != nil {
			return err
		}
	}
	return nil
}

func writeSeries(w io.Writer, index []int, values []float64) error {
	length := minInt(len(index), len(values))
	for i := 0; i < length; i++ {
		if _, err := fmt.Fprintf(w, "%d %g\n", index[i], values[i]); err != nil {
			return err
		}
	}
	return nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
