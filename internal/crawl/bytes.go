package crawl

import "bytes"

func byteReader(b []byte) *bytes.Reader {
	return bytes.NewReader(b)
}
