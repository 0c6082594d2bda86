package coherence

// BaseCoherence is the plain drift-inverse formula: 1 - avg(drift_score).
// With no drift windows it falls back to the mean signal score, or a neutral
// 0.5 when there are no signals at all.
func BaseCoherence(metrics []DriftWindow, signals []Signal) float64 {
	if len(metrics) == 0 {
		if len(signals) > 0 {
			sum := 0.0
			for _, s := range signals {
				sum += s.Score
			}
			return sum / float64(len(signals))
		}
		return 0.5
	}

	avgDrift := 0.0
	for _, m := range metrics {
		avgDrift += m.DriftScore
	}
	avgDrift /= float64(len(metrics))

	return clamp(1.0 - avgDrift)
}

// DiversityBonus rewards signals arriving from multiple sources, capped at
// 0.2. Four or more sources reach full diversity; a heavy skew toward a
// single source cuts the bonus by up to half.
func DiversityBonus(sources map[string]int) float64 {
	if len(sources) == 0 {
		return 0.0
	}

	total := 0
	maxCount := 0
	for _, count := range sources {
		total += count
		if count > maxCount {
			maxCount = count
		}
	}

	diversity := float64(len(sources)-1) / 4.0
	if diversity > 1.0 {
		diversity = 1.0
	}

	if total > 0 {
		maxRatio := float64(maxCount) / float64(total)
		balance := 1.0 - (maxRatio - 0.25)
		if balance < 0.5 {
			balance = 0.5
		}
		diversity *= balance
	}

	return diversity * 0.2
}

// Score is the canonical coherence formula: the drift-inverse base weighted at
// 0.7 plus the source-diversity bonus. The fallback paths (no drift windows)
// return the base estimate directly, unweighted.
func Score(metrics []DriftWindow, signals []Signal, sources map[string]int) float64 {
	base := BaseCoherence(metrics, signals)
	if len(metrics) == 0 {
		return base
	}
	return clamp(base*0.7 + DiversityBonus(sources))
}

// Trend is the least-squares slope of coherence values against their index
// position. Positive means improving, negative degrading.
func Trend(history []float64) float64 {
	n := len(history)
	if n < 2 {
		return 0.0
	}

	meanX := float64(n-1) / 2.0
	meanY := 0.0
	for _, y := range history {
		meanY += y
	}
	meanY /= float64(n)

	numerator := 0.0
	denominator := 0.0
	for i, y := range history {
		dx := float64(i) - meanX
		numerator += dx * (y - meanY)
		denominator += dx * dx
	}

	if denominator == 0 {
		return 0.0
	}
	return numerator / denominator
}

func clamp(v float64) float64 {
	if v < 0.0 {
		return 0.0
	}
	if v > 1.0 {
		return 1.0
	}
	return v
}
