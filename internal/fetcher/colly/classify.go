package collyfetcher

import (
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/camara-crawler/internal/crawler"
)

// Classify maps a failed visit to a transient or fatal FetchError. Status
// codes win over the transport error: 5xx and 429 are transient, any other
// 4xx is fatal. Without a status, network failures are transient and request
// construction failures are fatal.
func Classify(rawURL string, status int, err error) *crawler.FetchError {
	switch {
	case status >= http.StatusInternalServerError, status == http.StatusTooManyRequests:
		return crawler.NewTransientError(rawURL, status, err)
	case status >= http.StatusBadRequest:
		return crawler.NewFatalError(rawURL, status, err)
	case status >= http.StatusMultipleChoices:
		return crawler.NewFatalError(rawURL, status, err)
	}
	if isRequestError(err) {
		return crawler.NewFatalError(rawURL, status, err)
	}
	if isNetworkError(err) {
		return crawler.NewTransientError(rawURL, status, err)
	}
	// Anything else without a response came from the transport.
	return crawler.NewTransientError(rawURL, status, err)
}

func isRequestError(err error) bool {
	if errors.Is(err, colly.ErrMissingURL) ||
		errors.Is(err, colly.ErrForbiddenDomain) ||
		errors.Is(err, colly.ErrAlreadyVisited) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr) && urlErr.Op == "parse"
}

func isNetworkError(err error) bool {
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
