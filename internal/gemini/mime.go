package gemini

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseRate extracts the sample rate from a PCM mime type such as
// "audio/pcm;rate=24000".
func ParseRate(mimeType string) (int, error) {
	_, params, found := strings.Cut(mimeType, "rate=")
	if !found {
		return 0, fmt.Errorf("no rate in mime type %q", mimeType)
	}
	if i := strings.IndexByte(params, ';'); i >= 0 {
		params = params[:i]
	}
	rate, err := strconv.Atoi(strings.TrimSpace(params))
	if err != nil || rate <= 0 {
		return 0, fmt.Errorf("invalid rate in mime type %q", mimeType)
	}
	return rate, nil
}
