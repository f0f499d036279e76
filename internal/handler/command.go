package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// ErrMalformedCommand means the request carried no usable command line.
var ErrMalformedCommand = errors.New("malformed command")

const commandParam = "command"

// Command extracts the decoded "command" parameter from the query string or,
// for form POSTs, the body. Each value is decoded exactly once.
//
// The query is split on '&' only: ';' is an ordinary command character for
// the control services and must reach them untouched.
func Command(r *http.Request) (string, error) {
	cmd, found, err := queryValue(r.URL.RawQuery, commandParam)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}
	if !found {
		// ParseForm also walks the query and rejects ';' there; the body
		// parse still succeeds, so only a missing body value is fatal.
		perr := r.ParseForm()
		cmd = r.PostForm.Get(commandParam)
		if cmd == "" && perr != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformedCommand, perr)
		}
	}
	if cmd == "" {
		return "", fmt.Errorf("%w: empty", ErrMalformedCommand)
	}
	if strings.ContainsAny(cmd, "\r\n") {
		return "", fmt.Errorf("%w: embedded line break", ErrMalformedCommand)
	}
	return cmd, nil
}

// queryValue returns the first value of key in raw, splitting pairs on '&'.
func queryValue(raw, key string) (string, bool, error) {
	for raw != "" {
		var pair string
		pair, raw, _ = strings.Cut(raw, "&")
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		k, err := url.QueryUnescape(k)
		if err != nil || k != key {
			continue
		}
		v, err = url.QueryUnescape(v)
		if err != nil {
			return "", true, fmt.Errorf("decode %s: %w", key, err)
		}
		return v, true, nil
	}
	return "", false, nil
}
