package detect

import (
	"errors"

	"github.com/abadojack/whatlanggo"
)

var errUndetermined = errors.New("language undetermined")

// WhatlangPrimary adapts whatlanggo's trigram detector to Primary.
type WhatlangPrimary struct{}

// Detect implements Primary.
func (WhatlangPrimary) Detect(text string) (string, float64, error) {
	info := whatlanggo.Detect(text)
	code := info.Lang.Iso6391()
	if code == "" {
		return "", 0, errUndetermined
	}
	return code, info.Confidence, nil
}
