package serializer

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const (
	storedAtHeaderName = "Sonic-Stored-At"
	ttlHeaderName      = "Sonic-Ttl"
)

// StoredResponse is a response as kept in the cache.
type StoredResponse struct {
	Status int
	Header http.Header
	Body   []byte
	// The value of the clock when the response was recorded.
	StoredAt time.Time
	// Freshness lifetime the response was stored with.
	TTL time.Duration
}

// Expires returns the time after which the response must not be served.
func (s StoredResponse) Expires() time.Time {
	return s.StoredAt.Add(s.TTL)
}

// StoredResponseToBytes returns the HTTP/1.1 representation of the response.
// Storage metadata travels as extra headers which are removed again on read.
func StoredResponseToBytes(sRes StoredResponse) ([]byte, error) {
	header := sRes.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Del("Content-Length")
	header.Del("Transfer-Encoding")
	header.Set(storedAtHeaderName, strconv.FormatInt(sRes.StoredAt.Unix(), 10))
	header.Set(ttlHeaderName, strconv.FormatInt(int64(sRes.TTL/time.Second), 10))

	res := &http.Response{
		StatusCode:    sRes.Status,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(sRes.Body)),
		ContentLength: int64(len(sRes.Body)),
	}
	buf := &bytes.Buffer{}
	if err := res.Write(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BytesToStoredResponse parses bytes produced by StoredResponseToBytes.
func BytesToStoredResponse(b []byte) (StoredResponse, error) {
	sRes := StoredResponse{}
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), nil)
	if err != nil {
		return sRes, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return sRes, err
	}
	storedAt, err := strconv.ParseInt(res.Header.Get(storedAtHeaderName), 10, 64)
	if err != nil {
		return sRes, fmt.Errorf("stored-at header: %w", err)
	}
	ttl, err := strconv.ParseInt(res.Header.Get(ttlHeaderName), 10, 64)
	if err != nil {
		return sRes, fmt.Errorf("ttl header: %w", err)
	}
	// delete extra headers
	res.Header.Del(storedAtHeaderName)
	res.Header.Del(ttlHeaderName)
	res.Header.Del("Content-Length")

	sRes.Status = res.StatusCode
	sRes.Header = res.Header
	sRes.Body = body
	sRes.StoredAt = time.Unix(storedAt, 0)
	sRes.TTL = time.Duration(ttl) * time.Second
	return sRes, nil
}
