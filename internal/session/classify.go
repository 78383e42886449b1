package session

import (
	"context"
	"errors"
	"strings"

	"flash-buyer/internal/browser"
)

// Category separates ordinary element misses from failures of the session.
type Category int

const (
	CategoryNone Category = iota
	CategoryElement
	CategorySessionFatal
	CategoryCanceled
)

func (c Category) String() string {
	switch c {
	case CategoryNone:
		return "none"
	case CategoryElement:
		return "element"
	case CategorySessionFatal:
		return "session-fatal"
	case CategoryCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// fatalSignatures are lower-case fragments seen in driver errors when the
// renderer or the connection is gone.
var fatalSignatures = []string{
	"crashed",
	"session",
	"target closed",
	"has been closed",
	"websocket",
	"no such window",
	"connection refused",
	"disconnected",
}

// Classify buckets err. Cancellation wins over everything so an operator
// interrupt never triggers recovery.
func Classify(err error) Category {
	switch {
	case err == nil:
		return CategoryNone
	case errors.Is(err, context.Canceled):
		return CategoryCanceled
	case errors.Is(err, ErrSessionFatal), errors.Is(err, browser.ErrSessionClosed):
		return CategorySessionFatal
	}

	msg := strings.ToLower(err.Error())
	for _, sig := range fatalSignatures {
		if strings.Contains(msg, sig) {
			return CategorySessionFatal
		}
	}
	return CategoryElement
}

// IsFatal reports whether err alone warrants session recovery.
func IsFatal(err error) bool {
	return Classify(err) == CategorySessionFatal
}
