package download

import "strings"

const maxHostLen = 255

// filenameOf returns the substring of rawURL after its last "/", or the
// whole string if no "/" is present.
func filenameOf(rawURL string) string {
	if i := strings.LastIndexByte(rawURL, '/'); i >= 0 {
		return rawURL[i+1:]
	}
	return rawURL
}

// hostOf parses the host component of rawURL for diagnostic purposes
// (logging, error messages), without pulling in a full net/url parse.
//
// "file://" URLs report the literal host "disk". Otherwise it scans past
// the first "//", takes up to the next "/", and strips any "user:pass@"
// prefix (scanning from the right for "@", so passwords containing "@"
// don't confuse the split).
func hostOf(rawURL string) (string, error) {
	if strings.HasPrefix(rawURL, "file://") {
		return "disk", nil
	}

	idx := strings.Index(rawURL, "//")
	if idx < 0 {
		return "", newKindError(KindServerBadURL, "url has no authority component: %s", rawURL)
	}

	rest := rawURL[idx+2:]
	if end := strings.IndexByte(rest, '/'); end >= 0 {
		rest = rest[:end]
	}

	if at := strings.LastIndexByte(rest, '@'); at >= 0 {
		rest = rest[at+1:]
	}

	if len(rest) == 0 {
		return "", newKindError(KindServerBadURL, "url has empty host: %s", rawURL)
	}
	if len(rest) > maxHostLen {
		return "", newKindError(KindServerBadURL, "host exceeds %d bytes: %s", maxHostLen, rawURL)
	}

	return rest, nil
}
