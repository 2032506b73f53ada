package stats

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"antennaforge/internal/model"
)

var seriesHeader = []string{
	"generation", "best_fitness", "avg_fitness", "min_fitness", "std_fitness",
	"best_ever_fitness", "best_length_mm", "best_width_mm", "best_feed_offset_mm",
}

// WriteHistorySeries writes the generation history as CSV, one row per
// generation.
func WriteHistorySeries(runDir string, history []model.GenerationRecord) error {
	file, err := os.Create(filepath.Join(runDir, HistorySeriesFile))
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(seriesHeader); err != nil {
		return err
	}
	for _, rec := range history {
		if err := writer.Write([]string{
			strconv.Itoa(rec.Generation),
			formatFloat(rec.BestFitness),
			formatFloat(rec.AvgFitness),
			formatFloat(rec.MinFitness),
			formatFloat(rec.StdDevFitness),
			formatFloat(rec.BestEverFitness),
			formatFloat(rec.BestGeometry.LengthMM),
			formatFloat(rec.BestGeometry.WidthMM),
			formatFloat(rec.BestGeometry.FeedOffsetMM),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadHistorySeries(baseDir, runID string) ([]model.GenerationRecord, bool, error) {
	file, err := os.Open(filepath.Join(baseDir, runID, HistorySeriesFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []model.GenerationRecord{}, true, nil
		}
		return nil, false, err
	}
	if len(header) != len(seriesHeader) {
		return nil, false, fmt.Errorf("history series header must have %d columns, got %d", len(seriesHeader), len(header))
	}

	history := make([]model.GenerationRecord, 0, 64)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		generation, err := strconv.Atoi(record[0])
		if err != nil {
			return nil, false, fmt.Errorf("parse generation: %w", err)
		}
		values := make([]float64, len(record)-1)
		for i, field := range record[1:] {
			values[i], err = strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, false, fmt.Errorf("parse %s at generation %d: %w", seriesHeader[i+1], generation, err)
			}
		}
		history = append(history, model.GenerationRecord{
			Generation:      generation,
			BestFitness:     values[0],
			AvgFitness:      values[1],
			MinFitness:      values[2],
			StdDevFitness:   values[3],
			BestEverFitness: values[4],
			BestGeometry: model.BestGeometry{
				LengthMM:     values[5],
				WidthMM:      values[6],
				FeedOffsetMM: values[7],
			},
		})
	}
	return history, true, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
