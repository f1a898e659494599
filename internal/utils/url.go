package utils

import (
	"errors"
	"net/url"
)

var ErrInvalidURL = errors.New("invalid url")

// ValidateURL checks that raw parses as an absolute http(s) URL.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return ErrInvalidURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ErrInvalidURL
	}
	if u.Host == "" {
		return ErrInvalidURL
	}
	return nil
}
