package extract

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/cognicore/sentiprep/pkg/sentiprep/internalerr"
)

// Encoding names the charset a buffer was decoded with.
type Encoding string

const (
	EncodingUTF8   Encoding = "utf-8"
	EncodingLatin1 Encoding = "latin-1"
	EncodingCP1252 Encoding = "cp1252"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// decode tries UTF-8, Latin-1 and CP1252 in that order; the first full
// decode wins. Latin-1 maps every byte, so it only counts as a success when
// the result has no C1 control characters, which in practice means the
// input was CP1252 punctuation such as curly quotes.
func decode(buf []byte) (string, Encoding, error) {
	buf = bytes.TrimPrefix(buf, utf8BOM)
	if utf8.Valid(buf) {
		return string(buf), EncodingUTF8, nil
	}

	if s, err := charmap.ISO8859_1.NewDecoder().Bytes(buf); err == nil && !hasC1(string(s)) {
		return string(s), EncodingLatin1, nil
	}

	s, err := charmap.Windows1252.NewDecoder().Bytes(buf)
	if err == nil && !strings.ContainsRune(string(s), utf8.RuneError) && !hasC1(string(s)) {
		return string(s), EncodingCP1252, nil
	}
	return "", "", fmt.Errorf("%w: input is not utf-8, latin-1 or cp1252", internalerr.ErrFormat)
}

func hasC1(s string) bool {
	for _, r := range s {
		if r >= 0x80 && r <= 0x9F {
			return true
		}
	}
	return false
}
