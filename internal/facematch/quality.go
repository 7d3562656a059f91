package facematch

// Quality gate parameters.
const (
	// MinFaceSize is the absolute floor (px) for the best detection's shorter side.
	MinFaceSize = 24
	// QualityReferenceSize is the face side (px) at which size no longer limits quality.
	QualityReferenceSize = 100.0

	lowQualityCutoff  = 0.6
	highQualityCutoff = 0.9
	lowQualityRaise   = 0.05
	highQualityRelief = 0.02

	MinEffectiveThreshold = 0.40
	MaxEffectiveThreshold = 0.95
)

// DefaultThreshold is the default base similarity threshold.
const DefaultThreshold = 0.60

// QualityScore combines face size and detector confidence into [0, 1].
func QualityScore(minDimPx, detectorScore float64) float64 {
	return min(1, minDimPx/QualityReferenceSize) * detectorScore
}

// EffectiveThreshold adapts the base threshold to face quality: stricter for poor
// faces, slightly more lenient for excellent ones, always within [0.40, 0.95].
func EffectiveThreshold(base, quality float64) float64 {
	t := base
	switch {
	case quality < lowQualityCutoff:
		t += lowQualityRaise
	case quality > highQualityCutoff:
		t -= highQualityRelief
	}
	return max(MinEffectiveThreshold, min(MaxEffectiveThreshold, t))
}

// IsMatch reports whether similarity passes the quality-adjusted threshold.
func IsMatch(similarity, base, quality float64) bool {
	return similarity >= EffectiveThreshold(base, quality)
}

// PassesSizeFloor reports whether a face is large enough to be analyzed at all.
func PassesSizeFloor(minDimPx float64) bool {
	return minDimPx >= MinFaceSize
}

// ThresholdLabel describes a base threshold for display.
func ThresholdLabel(threshold float64) string {
	switch {
	case threshold >= 0.85:
		return "very strict"
	case threshold >= 0.75:
		return "strict"
	case threshold >= 0.60:
		return "balanced"
	case threshold >= 0.50:
		return "loose"
	default:
		return "experimental"
	}
}
