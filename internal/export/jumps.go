package export

import (
	"fmt"
	"math"

	"dotfleet/internal/classify"
	"dotfleet/internal/store"
)

// jumpTypeNames maps the classifier's type codes to record labels. Code 5 is
// the axel, the only jump taking off forward, which is why it carries the
// extra half rotation.
var jumpTypeNames = []string{
	"TOE_LOOP",
	"SALCHOW",
	"LOOP",
	"FLIP",
	"LUTZ",
	"AXEL",
}

func jumpTypeName(code int) string {
	if code >= 0 && code < len(jumpTypeNames) {
		return jumpTypeNames[code]
	}
	return "UNKNOWN"
}

// msToMark renders a millisecond offset as the mm:ss mark shown next to the
// jump.
func msToMark(ms int) string {
	s := int(math.Round(float64(ms) / 1000))
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}

// convertJumps applies the rotation rounding rules to the classifier output.
//
// The raw rotation estimate systematically undershoots, so confident jumps
// are rounded up with a type-dependent correction. Jumps whose rotation
// estimate is too low to trust go into a separate low-confidence bucket that
// is only persisted when no confident jump exists in the recording.
func convertJumps(jumps []classify.Jump) []store.JumpRecord {
	var confident, uncertain []store.JumpRecord

	for _, j := range jumps {
		rec := store.JumpRecord{
			Type:     jumpTypeName(j.Type),
			Success:  j.Success,
			TimeMark: msToMark(j.OffsetMs),
			MaxSpeed: j.RotationSpeed,
			Length:   j.Length,
		}

		rot := j.Rotations
		switch {
		case j.Type < 5 && rot > 0.5:
			if rot < 2 {
				rec.Rotations = math.Ceil(rot - 0.3)
			} else {
				rec.Rotations = math.Ceil(rot - 0.15)
			}
			confident = append(confident, rec)
		case j.Type == 5 && rot > 0.8:
			rec.Rotations = math.Ceil(rot-0.7) + 0.5
			confident = append(confident, rec)
		default:
			rec.Rotations = 0
			uncertain = append(uncertain, rec)
		}
	}

	if len(confident) > 0 {
		return confident
	}
	return uncertain
}
