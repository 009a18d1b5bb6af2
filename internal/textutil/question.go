package textutil

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var lower = cases.Lower(language.Und)

// questionReplacer turns whitespace into the underscore separator and keeps
// path separators out of the resulting directory name.
var questionReplacer = strings.NewReplacer(
	" ", "_",
	"/", "_",
	"\\", "_",
)

// NormalizeQuestion converts a question into the directory name that groups
// its artifacts: question marks are stripped from both ends, spaces become
// underscores, and the result is lower-cased.
//
//	NormalizeQuestion("What color is the car?") == "what_color_is_the_car"
func NormalizeQuestion(question string) string {
	q := strings.Trim(strings.TrimSpace(question), "?")
	return lower.String(questionReplacer.Replace(q))
}

// ImageStem returns the part of an image filename before the first dot.
//
//	ImageStem("car.jpg") == "car"
//	ImageStem("street.view.png") == "street"
func ImageStem(imageName string) string {
	name := strings.TrimSpace(imageName)
	if idx := strings.IndexByte(name, '.'); idx >= 0 {
		return name[:idx]
	}
	return name
}

// Lower lower-cases s using Unicode case mapping.
func Lower(s string) string {
	return lower.String(s)
}
