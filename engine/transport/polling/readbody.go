package polling

import (
	"io"
	"net/http"
)

func readBody(r *http.Request, limit int64) ([]byte, error) {
	var reader io.Reader = r.Body
	if limit > 0 {
		reader = io.LimitReader(r.Body, limit)
	}
	return io.ReadAll(reader)
}
