package service

import "github.com/noah-isme/teaching-load-planner/internal/models"

// ComputeHours projects group counts onto weekly hours using the catalog's
// per-group costs. Formats without a definition contribute zero.
func ComputeHours(defs []models.TeachingFormatDefinition, counts models.GroupCounts) models.ComputedHours {
	rates := make(map[models.TeachingFormat]float64, len(defs))
	for _, def := range defs {
		if _, seen := rates[def.Code]; seen {
			continue
		}
		rates[def.Code] = def.HoursPerGroup
	}

	hours := models.ComputedHours{
		Lecture:  float64(counts.Lecture) * rates[models.FormatLecture],
		Exercise: float64(counts.Exercise) * rates[models.FormatExercise],
		Lab:      float64(counts.Lab) * rates[models.FormatLab],
		Seminar:  float64(counts.Seminar) * rates[models.FormatSeminar],
	}
	hours.Total = hours.Lecture + hours.Exercise + hours.Lab + hours.Seminar
	return hours
}

// ResolveHours computes hours when the catalog has definitions for the module.
// Without definitions a non-zero recorded total is passed through unchanged
// with an empty breakdown.
//
// TODO(load): decide whether recorded totals should win over a recomputation
// that yields zero for formats missing from the catalog.
func ResolveHours(defs []models.TeachingFormatDefinition, counts models.GroupCounts, recordedTotal float64) models.ComputedHours {
	if len(defs) == 0 && recordedTotal != 0 {
		return models.ComputedHours{Total: recordedTotal}
	}
	return ComputeHours(defs, counts)
}
