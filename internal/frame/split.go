package frame

import "bytes"

// SplitJPEG splits a concatenated JPEG byte stream at each End-Of-Image marker
// so that every token holds one image starting at its Start-Of-Image marker.
// Bytes before the first marker are skipped. It is a bufio.SplitFunc.
//
//	scanner := bufio.NewScanner(stdout)
//	scanner.Split(frame.SplitJPEG)
func SplitJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	start := bytes.Index(data, soiMarker)
	if start < 0 {
		// Keep a trailing 0xFF in case the marker is split across reads.
		if n := len(data); n > 0 && data[n-1] == 0xFF && !atEOF {
			return n - 1, nil, nil
		}
		return len(data), nil, nil
	}

	if i := bytes.Index(data[start+len(soiMarker):], eoiMarker); i >= 0 {
		end := start + len(soiMarker) + i + len(eoiMarker)
		return end, data[start:end], nil
	}

	if atEOF {
		// Truncated final image: hand it over unvalidated.
		return len(data), data[start:], nil
	}

	// Request more data.
	return start, nil, nil
}
