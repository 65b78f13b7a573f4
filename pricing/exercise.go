package pricing

import (
	"math"

	"github.com/bcdannyboy/crrput/models"
)

// ExtractExercise flags every node whose value equals its payoff. Backward
// stores one of its two max arguments verbatim, so a zero tolerance (exact
// equality) is correct for its output; values produced elsewhere should pass
// a relative tolerance such as 1e-9.
func ExtractExercise(value, payoff *models.NodeValues, tolerance float64) *models.ExerciseRegion {
	region := models.NewExerciseRegion(value.Steps())
	for n := 0; n <= value.Steps(); n++ {
		v, phi := value.Step(n), payoff.Step(n)
		for i := range v {
			region.Set(n, i, sameValue(v[i], phi[i], tolerance))
		}
	}
	return region
}

func sameValue(a, b, tolerance float64) bool {
	if a == b {
		return true
	}
	return math.Abs(a-b) <= tolerance*math.Max(math.Abs(a), math.Abs(b))
}
